// Package stt provides speech-to-text transcription for voice messages.
package stt

import (
	"context"
	"errors"
)

// Provider is the interface for STT implementations.
type Provider interface {
	// Transcribe converts compressed audio (Ogg/Opus) to text.
	// language is an optional hint; "" lets the backend decide.
	// An empty result with a nil error means no speech was recognized.
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)

	// Name returns the provider name (e.g., "openai", "vosk")
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

var (
	// ErrTranscoderNotFound is returned when the transcoder binary cannot be resolved.
	ErrTranscoderNotFound = errors.New("transcoder binary not found")

	// ErrChecksumMismatch is returned when a downloaded model archive fails verification.
	ErrChecksumMismatch = errors.New("model checksum mismatch")

	// ErrUnsupportedArchive is returned for model archives that are neither zip nor tar.
	ErrUnsupportedArchive = errors.New("unsupported model archive format")

	// ErrModelNotReady is returned when the model directory is missing or empty after provisioning.
	ErrModelNotReady = errors.New("model directory is missing or empty")
)

// AutoLanguage asks a local engine to detect the spoken language.
const AutoLanguage = "auto"

// LanguageOrAuto returns hint, or AutoLanguage when no hint is set.
func LanguageOrAuto(hint string) string {
	if hint == "" {
		return AutoLanguage
	}
	return hint
}

// AttemptObserver is notified after each cloud model attempt.
// result is one of "ok", "empty" or "error".
type AttemptObserver func(model, result string)
