//go:build cgo

// Package whispercpp adapts whisper.cpp to the offline recognizer contract.
//
// whisper.cpp is not a streaming decoder: the recognizer buffers the PCM it
// is fed and runs inference when the final result is requested.
package whispercpp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
	"github.com/roelfdiedericks/voicerelay/internal/stt"
)

// Engine holds a loaded whisper.cpp model.
type Engine struct {
	model    whisper.Model
	language string
	threads  uint
}

// WhisperCppConfig holds configuration for whisper.cpp.
type WhisperCppConfig struct {
	ModelDir string // Directory containing a ggml-*.bin model
	Language string // Default language ("" or "auto" for detection)
	Threads  uint   // Number of threads (0 = auto)
}

// New loads the first ggml model file found in cfg.ModelDir.
func New(cfg WhisperCppConfig) (*Engine, error) {
	modelPath, err := findModelFile(cfg.ModelDir)
	if err != nil {
		return nil, err
	}
	L_info("stt: loading whisper.cpp model", "path", modelPath)

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}

	L_info("stt: whisper.cpp model loaded", "multilingual", model.IsMultilingual())
	if !model.IsMultilingual() && stt.LanguageOrAuto(cfg.Language) != "en" {
		L_debug("stt: model is English-only, language hint has no effect", "language", cfg.Language)
	}
	return &Engine{model: model, language: cfg.Language, threads: cfg.Threads}, nil
}

// findModelFile picks the first *.bin in dir, in name order.
func findModelFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.bin"))
	if err != nil {
		return "", fmt.Errorf("scan model dir: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no whisper model (*.bin) in %s", dir)
	}
	sort.Strings(matches)
	if info, err := os.Stat(matches[0]); err != nil || info.Size() == 0 {
		return "", fmt.Errorf("whisper model %s is empty or unreadable", matches[0])
	}
	return matches[0], nil
}

// NewRecognizer opens a buffering session. Each session gets its own whisper context.
func (e *Engine) NewRecognizer(sampleRate int, language string) (stt.Recognizer, error) {
	if sampleRate != stt.TargetSampleRate {
		return nil, fmt.Errorf("whisper.cpp requires %d Hz input, got %d", stt.TargetSampleRate, sampleRate)
	}
	if language == "" {
		language = e.language
	}
	return &recognizer{engine: e, language: language}, nil
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return "whispercpp"
}

// Close releases the whisper model.
func (e *Engine) Close() error {
	L_debug("stt: closing whisper.cpp model")
	return e.model.Close()
}

type recognizer struct {
	engine   *Engine
	language string
	pcm      bytes.Buffer
}

func (r *recognizer) AcceptWaveform(pcm []byte) error {
	_, err := r.pcm.Write(pcm)
	return err
}

func (r *recognizer) FinalResult() ([]byte, error) {
	samples := stt.PCMToFloat32(r.pcm.Bytes())

	ctx, err := r.engine.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create whisper context: %w", err)
	}

	language := stt.LanguageOrAuto(r.language)
	if err := ctx.SetLanguage(language); err != nil {
		if language == stt.AutoLanguage {
			L_debug("stt: auto language detection not supported for this model")
		} else {
			L_warn("stt: failed to set language", "language", language, "error", err)
		}
	}
	if r.engine.threads > 0 {
		ctx.SetThreads(r.engine.threads)
	}

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper process: %w", err)
	}

	var text strings.Builder
	for {
		segment, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("get segment: %w", err)
		}
		text.WriteString(segment.Text)
	}

	return json.Marshal(map[string]string{"text": strings.TrimSpace(text.String())})
}

func (r *recognizer) Close() error {
	r.pcm.Reset()
	return nil
}
