// Package telegram provides the Bot API client used by the relay.
//
// The bot runs offline (no poller, no getMe at startup): updates arrive over
// the webhook and this package only makes outbound calls.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// MaxDownloadSize caps a voice file download. Bot API downloads are limited
// to 20 MB, so anything larger is not a real voice message.
const MaxDownloadSize = 20 << 20

// ClientConfig holds the Telegram client configuration.
type ClientConfig struct {
	BotToken string
	APIURL   string
	Timeout  time.Duration
}

// Client wraps telebot for the handful of Bot API calls the relay makes.
// Safe for concurrent use.
type Client struct {
	bot    *tele.Bot
	http   *http.Client
	apiURL string
}

// New creates a new Telegram client.
func New(cfg ClientConfig) (*Client, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	L_debug("telegram: creating bot", "tokenLength", len(cfg.BotToken), "api", apiURL)

	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.BotToken,
		URL:     apiURL,
		Client:  httpClient,
		Offline: true,
		OnError: func(err error, _ tele.Context) {
			L_error("telegram: bot error", "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Client{bot: bot, http: httpClient, apiURL: apiURL}, nil
}

// SetWebhook registers publicURL as the update target, with an optional secret.
func (c *Client) SetWebhook(publicURL, secret string) error {
	wh := &tele.Webhook{
		Endpoint:       &tele.WebhookEndpoint{PublicURL: publicURL},
		SecretToken:    secret,
		AllowedUpdates: []string{"message", "edited_message"},
	}
	if err := c.bot.SetWebhook(wh); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	L_info("telegram: webhook registered", "url", publicURL, "secret", secret != "")
	return nil
}

// SendMessage sends plain text to chatID, as a reply when replyTo is non-zero.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyTo int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if replyTo != 0 {
		opts.ReplyTo = &tele.Message{ID: replyTo, Chat: &tele.Chat{ID: chatID}}
	}
	if _, err := c.bot.Send(tele.ChatID(chatID), text, opts); err != nil {
		return fmt.Errorf("sendMessage: %w", err)
	}
	return nil
}

// FilePath resolves a file id to its download path (getFile).
func (c *Client) FilePath(ctx context.Context, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	file, err := c.bot.FileByID(fileID)
	if err != nil {
		return "", fmt.Errorf("getFile: %w", err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("getFile: no file_path for %s", fileID)
	}
	return file.FilePath, nil
}

// Download fetches the bytes at a path returned by FilePath.
func (c *Client) Download(ctx context.Context, filePath string) ([]byte, error) {
	url := fmt.Sprintf("%s/file/bot%s/%s", c.apiURL, c.bot.Token, strings.TrimLeft(filePath, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL embeds the token; keep it out of the error.
		return nil, fmt.Errorf("failed to download file %s: %w", filePath, redactURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s failed with status: %d", filePath, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	if len(data) > MaxDownloadSize {
		return nil, fmt.Errorf("file %s exceeds %d bytes", filePath, MaxDownloadSize)
	}
	return data, nil
}

// redactURLError drops the request URL from *url.Error values.
func redactURLError(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok && strings.Contains(err.Error(), "/file/bot") {
		if inner := u.Unwrap(); inner != nil {
			return inner
		}
	}
	return err
}
