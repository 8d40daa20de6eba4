package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
)

// DefaultChunkSize is how many PCM bytes are fed to a recognizer per call.
const DefaultChunkSize = 4000

// Engine is a local speech model able to open recognizer sessions.
// An Engine is shared across requests; sessions are not.
type Engine interface {
	// NewRecognizer opens a fresh session for one transcription.
	NewRecognizer(sampleRate int, language string) (Recognizer, error)

	// Name returns the engine name (e.g., "vosk", "whispercpp")
	Name() string

	// Close releases the loaded model.
	Close() error
}

// Recognizer is a single streaming recognition session.
type Recognizer interface {
	// AcceptWaveform feeds a chunk of s16le PCM.
	AcceptWaveform(pcm []byte) error

	// FinalResult flushes the session and returns a JSON object with a "text" field.
	FinalResult() ([]byte, error)

	// Close frees the session.
	Close() error
}

// OfflineProvider implements STT with a local engine behind a Normalizer.
type OfflineProvider struct {
	normalizer Normalizer
	engine     Engine
	chunkSize  int
}

// NewOfflineProvider creates an offline provider. The engine is owned by the
// provider and closed with it.
func NewOfflineProvider(normalizer Normalizer, engine Engine) (*OfflineProvider, error) {
	if normalizer == nil {
		return nil, fmt.Errorf("offline provider needs a normalizer")
	}
	if engine == nil {
		return nil, fmt.Errorf("offline provider needs an engine")
	}
	L_info("stt: offline provider initialized", "engine", engine.Name())
	return &OfflineProvider{
		normalizer: normalizer,
		engine:     engine,
		chunkSize:  DefaultChunkSize,
	}, nil
}

// SetChunkSize overrides the feed chunk size. Values <= 0 feed the PCM in one call.
func (p *OfflineProvider) SetChunkSize(n int) {
	p.chunkSize = n
}

// Transcribe normalizes the audio and runs it through a fresh recognizer session.
func (p *OfflineProvider) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	start := time.Now()

	pcm, err := p.normalizer.Normalize(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("normalize audio: %w", err)
	}
	L_debug("stt: audio converted", "pcmBytes", len(pcm), "duration_sec", float64(len(pcm))/2/TargetSampleRate)

	rec, err := p.engine.NewRecognizer(TargetSampleRate, language)
	if err != nil {
		return "", fmt.Errorf("create %s recognizer: %w", p.engine.Name(), err)
	}
	defer rec.Close()

	if err := feed(ctx, rec, pcm, p.chunkSize); err != nil {
		return "", err
	}

	final, err := rec.FinalResult()
	if err != nil {
		return "", fmt.Errorf("%s final result: %w", p.engine.Name(), err)
	}

	text := parseFinalText(final)
	L_debug("stt: offline transcription complete", "engine", p.engine.Name(), "length", len(text), "took", time.Since(start))
	return text, nil
}

// feed streams pcm into rec in chunkSize pieces to bound peak memory in the engine.
func feed(ctx context.Context, rec Recognizer, pcm []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = len(pcm)
	}
	for off := 0; off < len(pcm); off += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := rec.AcceptWaveform(pcm[off:end]); err != nil {
			return fmt.Errorf("accept waveform at %d: %w", off, err)
		}
	}
	return nil
}

// parseFinalText extracts the trimmed "text" field; anything unparsable is "".
func parseFinalText(final []byte) string {
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(final, &result); err != nil {
		L_debug("stt: unparsable final result", "error", err, "raw", string(final))
		return ""
	}
	return strings.TrimSpace(result.Text)
}

// Name returns the provider name.
func (p *OfflineProvider) Name() string {
	return p.engine.Name()
}

// Close releases the engine.
func (p *OfflineProvider) Close() error {
	L_debug("stt: closing offline engine", "engine", p.engine.Name())
	return p.engine.Close()
}
