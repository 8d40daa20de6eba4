//go:build cgo

// Package vosk wires the Vosk (Kaldi) streaming recognizer into the offline provider.
package vosk

import (
	"fmt"
	"sync"

	voskapi "github.com/alphacep/vosk-api/go"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
	"github.com/roelfdiedericks/voicerelay/internal/stt"
)

var quietOnce sync.Once

// Engine holds a loaded Vosk model. The model is read-only and shared;
// recognizers are created per transcription.
type Engine struct {
	model *voskapi.VoskModel
	path  string
}

// New loads the model directory at path.
func New(path string) (*Engine, error) {
	quietOnce.Do(func() { voskapi.SetLogLevel(-1) })

	L_info("stt: loading vosk model", "path", path)
	model, err := voskapi.NewModel(path)
	if err != nil {
		return nil, fmt.Errorf("load vosk model %s: %w", path, err)
	}
	return &Engine{model: model, path: path}, nil
}

// NewRecognizer opens a streaming session. Vosk models are single-language,
// so the language hint is ignored.
func (e *Engine) NewRecognizer(sampleRate int, _ string) (stt.Recognizer, error) {
	rec, err := voskapi.NewRecognizer(e.model, float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("create vosk recognizer: %w", err)
	}
	return &recognizer{rec: rec}, nil
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return "vosk"
}

// Close frees the model.
func (e *Engine) Close() error {
	L_debug("stt: freeing vosk model", "path", e.path)
	e.model.Free()
	return nil
}

type recognizer struct {
	rec *voskapi.VoskRecognizer
}

func (r *recognizer) AcceptWaveform(pcm []byte) error {
	if r.rec.AcceptWaveform(pcm) < 0 {
		return fmt.Errorf("vosk rejected waveform chunk of %d bytes", len(pcm))
	}
	return nil
}

func (r *recognizer) FinalResult() ([]byte, error) {
	return []byte(r.rec.FinalResult()), nil
}

func (r *recognizer) Close() error {
	r.rec.Free()
	return nil
}
