package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

type passthroughNormalizer struct {
	err   error
	calls int
}

func (n *passthroughNormalizer) Normalize(ctx context.Context, audio []byte) ([]byte, error) {
	n.calls++
	if n.err != nil {
		return nil, n.err
	}
	return audio, nil
}

// fakeEngine produces recognizers that "recognize" a checksum of everything
// they were fed, so chunking differences would show up in the text.
type fakeEngine struct {
	final      func(fed []byte) []byte
	sessions   []*fakeRecognizer
	closed     bool
	sampleRate int
	language   string
}

func (e *fakeEngine) NewRecognizer(sampleRate int, language string) (Recognizer, error) {
	e.sampleRate = sampleRate
	e.language = language
	r := &fakeRecognizer{final: e.final}
	e.sessions = append(e.sessions, r)
	return r, nil
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

type fakeRecognizer struct {
	fed    bytes.Buffer
	chunks []int
	final  func(fed []byte) []byte
	closed bool
}

func (r *fakeRecognizer) AcceptWaveform(pcm []byte) error {
	r.chunks = append(r.chunks, len(pcm))
	r.fed.Write(pcm)
	return nil
}

func (r *fakeRecognizer) FinalResult() ([]byte, error) {
	if r.final != nil {
		return r.final(r.fed.Bytes()), nil
	}
	var sum int
	for _, b := range r.fed.Bytes() {
		sum = (sum*31 + int(b)) % 1000003
	}
	return json.Marshal(map[string]string{"text": fmt.Sprintf("  words %d/%d \n", len(r.fed.Bytes()), sum)})
}

func (r *fakeRecognizer) Close() error {
	r.closed = true
	return nil
}

func pcmFixture(n int) []byte {
	pcm := make([]byte, n)
	for i := range pcm {
		pcm[i] = byte(i * 7)
	}
	return pcm
}

func TestOfflineProviderChunkingDoesNotChangeTranscript(t *testing.T) {
	pcm := pcmFixture(10_001)

	chunkedEngine := &fakeEngine{}
	chunked, err := NewOfflineProvider(&passthroughNormalizer{}, chunkedEngine)
	if err != nil {
		t.Fatalf("NewOfflineProvider failed: %v", err)
	}

	wholeEngine := &fakeEngine{}
	whole, err := NewOfflineProvider(&passthroughNormalizer{}, wholeEngine)
	if err != nil {
		t.Fatalf("NewOfflineProvider failed: %v", err)
	}
	whole.SetChunkSize(0)

	a, err := chunked.Transcribe(context.Background(), pcm, "")
	if err != nil {
		t.Fatalf("chunked transcribe failed: %v", err)
	}
	b, err := whole.Transcribe(context.Background(), pcm, "")
	if err != nil {
		t.Fatalf("whole transcribe failed: %v", err)
	}
	if a != b {
		t.Fatalf("chunked %q != contiguous %q", a, b)
	}

	chunks := chunkedEngine.sessions[0].chunks
	wantChunks := []int{4000, 4000, 2001}
	if fmt.Sprint(chunks) != fmt.Sprint(wantChunks) {
		t.Errorf("expected chunks %v, got %v", wantChunks, chunks)
	}
	if got := wholeEngine.sessions[0].chunks; len(got) != 1 || got[0] != len(pcm) {
		t.Errorf("expected one contiguous feed, got %v", got)
	}
}

func TestOfflineProviderFreshSessionPerCall(t *testing.T) {
	engine := &fakeEngine{}
	p, err := NewOfflineProvider(&passthroughNormalizer{}, engine)
	if err != nil {
		t.Fatalf("NewOfflineProvider failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := p.Transcribe(context.Background(), pcmFixture(100), "en"); err != nil {
			t.Fatalf("transcribe %d failed: %v", i, err)
		}
	}
	if len(engine.sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(engine.sessions))
	}
	for i, s := range engine.sessions {
		if !s.closed {
			t.Errorf("session %d not closed", i)
		}
	}
	if engine.sampleRate != TargetSampleRate || engine.language != "en" {
		t.Errorf("unexpected session params: rate=%d language=%q", engine.sampleRate, engine.language)
	}

	if err := p.Close(); err != nil || !engine.closed {
		t.Errorf("Close should close the engine (err=%v)", err)
	}
}

func TestOfflineProviderFinalResultParsing(t *testing.T) {
	tests := []struct {
		name  string
		final string
		want  string
	}{
		{"text field", `{"text" : " привет мир "}`, "привет мир"},
		{"missing field", `{"result": []}`, ""},
		{"empty text", `{"text": ""}`, ""},
		{"not json", `garbage`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{final: func([]byte) []byte { return []byte(tt.final) }}
			p, err := NewOfflineProvider(&passthroughNormalizer{}, engine)
			if err != nil {
				t.Fatalf("NewOfflineProvider failed: %v", err)
			}
			got, err := p.Transcribe(context.Background(), pcmFixture(10), "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOfflineProviderNormalizeFailure(t *testing.T) {
	boom := &TranscodeError{Err: errors.New("exit status 1"), Stderr: "Invalid data"}
	engine := &fakeEngine{}
	p, err := NewOfflineProvider(&passthroughNormalizer{err: boom}, engine)
	if err != nil {
		t.Fatalf("NewOfflineProvider failed: %v", err)
	}

	_, err = p.Transcribe(context.Background(), []byte("x"), "")
	var te *TranscodeError
	if !errors.As(err, &te) {
		t.Fatalf("expected transcode error, got %v", err)
	}
	if len(engine.sessions) != 0 {
		t.Errorf("no recognizer should be opened when normalization fails")
	}
}

func TestNewOfflineProviderRequiresParts(t *testing.T) {
	if _, err := NewOfflineProvider(nil, &fakeEngine{}); err == nil {
		t.Error("expected error without normalizer")
	}
	if _, err := NewOfflineProvider(&passthroughNormalizer{}, nil); err == nil {
		t.Error("expected error without engine")
	}
}
