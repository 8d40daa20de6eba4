// Package relay turns one Telegram update into one chat reply: classify the
// message, fetch the voice file, transcribe it and answer.
package relay

import (
	"context"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
	"github.com/roelfdiedericks/voicerelay/internal/metrics"
	"github.com/roelfdiedericks/voicerelay/internal/stt"
)

// Outcome names how an update was handled.
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeGreeted     Outcome = "greeted"
	OutcomePrompted    Outcome = "prompted"
	OutcomeNoFileID    Outcome = "no_file_id"
	OutcomeFetchFailed Outcome = "fetch_failed"
	OutcomeTranscribed Outcome = "transcribed"
	OutcomeEmpty       Outcome = "empty"
	OutcomeFailed      Outcome = "failed"
	OutcomeQuota       Outcome = "quota"
)

// Messenger is the subset of the Bot API the controller uses.
// *telegram.Client implements it.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int) error
	FilePath(ctx context.Context, fileID string) (string, error)
	Download(ctx context.Context, filePath string) ([]byte, error)
}

// Options tunes reply composition.
type Options struct {
	Language string              // STT language hint, "" for auto
	Debug    bool                // include error text in failure replies
	Redact   func(string) string // scrubs secrets from debug replies
}

// Controller handles webhook updates. It keeps no per-update state and is
// safe for concurrent use as long as its collaborators are.
type Controller struct {
	bot      Messenger
	provider stt.Provider
	messages Messages
	opts     Options
	metrics  *metrics.Metrics
}

// NewController wires a controller. m may be nil.
func NewController(bot Messenger, provider stt.Provider, messages Messages, opts Options, m *metrics.Metrics) *Controller {
	return &Controller{
		bot:      bot,
		provider: provider,
		messages: messages,
		opts:     opts,
		metrics:  m,
	}
}

// HandleUpdate processes one update. Failures are answered in chat and
// logged, never returned: the webhook is acknowledged regardless.
func (c *Controller) HandleUpdate(ctx context.Context, upd *tele.Update) Outcome {
	outcome := c.handle(ctx, upd)
	c.metrics.ObserveUpdate(string(outcome))
	return outcome
}

func (c *Controller) handle(ctx context.Context, upd *tele.Update) Outcome {
	msg := pickMessage(upd)
	if msg == nil || msg.Chat == nil {
		L_trace("relay: update without message", "update", updateID(upd))
		return OutcomeIgnored
	}
	chatID, msgID := msg.Chat.ID, msg.ID

	if isStartCommand(msg.Text) {
		c.reply(ctx, chatID, msgID, c.messages.Start)
		return OutcomeGreeted
	}

	media, ok := voiceFile(msg)
	if !ok {
		c.reply(ctx, chatID, msgID, c.messages.SendVoice)
		return OutcomePrompted
	}
	if media.FileID == "" {
		L_warn("relay: attachment without file id", "chat", chatID, "message", msgID)
		return OutcomeNoFileID
	}

	audio, filePath, err := c.fetch(ctx, media.FileID)
	if err != nil {
		L_error("relay: fetch failed", "chat", chatID, "fileID", media.FileID, "path", filePath, "error", err)
		c.reply(ctx, chatID, msgID, c.messages.FetchFailed)
		return OutcomeFetchFailed
	}
	c.metrics.ObserveAudio(len(audio))

	text, outcome := c.transcribe(ctx, audio, filePath)
	c.reply(ctx, chatID, msgID, text)
	return outcome
}

func (c *Controller) fetch(ctx context.Context, fileID string) ([]byte, string, error) {
	filePath, err := c.bot.FilePath(ctx, fileID)
	if err != nil {
		return nil, "", err
	}
	data, err := c.bot.Download(ctx, filePath)
	if err != nil {
		return nil, filePath, err
	}
	L_debug("relay: voice downloaded", "path", filePath, "bytes", len(data))
	return data, filePath, nil
}

func (c *Controller) transcribe(ctx context.Context, audio []byte, filePath string) (string, Outcome) {
	name := c.provider.Name()
	start := time.Now()
	text, err := c.provider.Transcribe(ctx, audio, c.opts.Language)
	took := time.Since(start)

	if err != nil {
		c.metrics.ObserveTranscription(name, "error", took)
		L_error("relay: transcription failed", "provider", name, "path", filePath, "bytes", len(audio), "error", err)
		return c.failureReply(err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		c.metrics.ObserveTranscription(name, "empty", took)
		L_info("relay: no speech recognized", "provider", name, "path", filePath, "bytes", len(audio))
		return c.messages.Empty, OutcomeEmpty
	}

	c.metrics.ObserveTranscription(name, "ok", took)
	L_info("relay: transcribed", "provider", name, "bytes", len(audio), "chars", len(text), "took", took.Round(time.Millisecond))
	return text, OutcomeTranscribed
}

func (c *Controller) reply(ctx context.Context, chatID int64, replyTo int, text string) {
	if err := c.bot.SendMessage(ctx, chatID, text, replyTo); err != nil {
		L_error("relay: send failed", "chat", chatID, "replyTo", replyTo, "error", err)
	}
}

func pickMessage(upd *tele.Update) *tele.Message {
	if upd == nil {
		return nil
	}
	if upd.Message != nil {
		return upd.Message
	}
	return upd.EditedMessage
}

func updateID(upd *tele.Update) int {
	if upd == nil {
		return 0
	}
	return upd.ID
}

func isStartCommand(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/start", "start":
		return true
	}
	return false
}

// voiceFile returns the first of voice, audio or video note.
func voiceFile(msg *tele.Message) (tele.File, bool) {
	switch {
	case msg.Voice != nil:
		return msg.Voice.File, true
	case msg.Audio != nil:
		return msg.Audio.File, true
	case msg.VideoNote != nil:
		return msg.VideoNote.File, true
	}
	return tele.File{}, false
}
