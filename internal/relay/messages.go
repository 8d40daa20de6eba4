package relay

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
)

// Messages is the table of fixed replies sent to users.
type Messages struct {
	Start       string `yaml:"start"`
	SendVoice   string `yaml:"send_voice"`
	FetchFailed string `yaml:"fetch_failed"`
	Empty       string `yaml:"empty"`
	Failed      string `yaml:"failed"`
	Quota       string `yaml:"quota"`
	DebugPrefix string `yaml:"debug_prefix"`
}

// DefaultMessages returns the built-in Russian replies.
func DefaultMessages() Messages {
	return Messages{
		Start:       "Отправь голосовое сообщение, я пришлю текст.",
		SendVoice:   "Пожалуйста, пришли голосовое сообщение (voice).",
		FetchFailed: "Не смог получить файл от Telegram.",
		Empty:       "Не получилось распознать голос.",
		Failed:      "Произошла ошибка распознавания. Попробуйте ещё раз.",
		Quota:       "Закончилась квота сервиса распознавания. Попробуйте позже.",
		DebugPrefix: "Ошибка распознавания:",
	}
}

// LoadMessages returns the defaults with any non-empty entries from the
// YAML file at path applied on top. An empty path yields the defaults.
func LoadMessages(path string) (Messages, error) {
	msgs := DefaultMessages()
	if path == "" {
		return msgs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return msgs, fmt.Errorf("read messages file: %w", err)
	}

	var override Messages
	if err := yaml.Unmarshal(data, &override); err != nil {
		return msgs, fmt.Errorf("parse messages file %s: %w", path, err)
	}

	if err := mergo.Merge(&msgs, override, mergo.WithOverride); err != nil {
		return DefaultMessages(), fmt.Errorf("apply messages file %s: %w", path, err)
	}
	L_debug("relay: loaded message overrides", "path", path)
	return msgs, nil
}
