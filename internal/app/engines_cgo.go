//go:build cgo

package app

import (
	"github.com/roelfdiedericks/voicerelay/internal/config"
	"github.com/roelfdiedericks/voicerelay/internal/stt"
	"github.com/roelfdiedericks/voicerelay/internal/stt/vosk"
	"github.com/roelfdiedericks/voicerelay/internal/stt/whispercpp"
)

func init() {
	registerEngine(config.EngineVosk, func(_ config.Settings, modelPath string) (stt.Engine, error) {
		return vosk.New(modelPath)
	})
	registerEngine(config.EngineWhisperCpp, func(s config.Settings, modelPath string) (stt.Engine, error) {
		return whispercpp.New(whispercpp.WhisperCppConfig{ModelDir: modelPath, Language: s.Language})
	})
}
