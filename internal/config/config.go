// Package config holds the process-wide voicerelay settings.
//
// Settings are parsed once at startup (kong reads the env tags below) and
// passed by value to constructors. Nothing re-reads the environment later.
package config

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/roelfdiedericks/voicerelay/internal/paths"
)

// Provider selectors
const (
	ProviderCloud   = "cloud"
	ProviderOffline = "offline"
)

// Offline engine selectors
const (
	EngineVosk       = "vosk"
	EngineWhisperCpp = "whispercpp"
)

// BuiltinTranscoder selects the pure-Go Ogg/Opus normalizer instead of an external binary.
const BuiltinTranscoder = "builtin"

// WebhookPath is the route the bot platform posts updates to.
const WebhookPath = "/webhook/telegram"

// Settings is the immutable process configuration.
type Settings struct {
	Listen string `name:"listen" env:"LISTEN_ADDR" default:":8080" help:"HTTP listen address."`

	TelegramBotToken string `name:"telegram-bot-token" env:"TELEGRAM_BOT_TOKEN" help:"Telegram bot token."`
	TelegramAPIURL   string `name:"telegram-api-url" env:"TELEGRAM_API_URL" default:"https://api.telegram.org" help:"Telegram Bot API base URL."`
	AppBaseURL       string `name:"app-base-url" env:"APP_BASE_URL" help:"Public base URL; the webhook is registered at <url>/webhook/telegram."`
	WebhookSecret    string `name:"webhook-secret" env:"WEBHOOK_SECRET" help:"Shared secret expected in X-Telegram-Bot-Api-Secret-Token."`

	OpenAIAPIKey  string   `name:"openai-api-key" env:"OPENAI_API_KEY" help:"Speech API key (cloud provider)."`
	OpenAIOrg     string   `name:"openai-org" env:"OPENAI_ORG_ID" help:"Optional organization id."`
	OpenAIProject string   `name:"openai-project" env:"OPENAI_PROJECT_ID" help:"Optional project id."`
	OpenAIBaseURL string   `name:"openai-base-url" env:"OPENAI_BASE_URL" help:"Optional API base URL override."`
	CloudModels   []string `name:"cloud-models" env:"STT_CLOUD_MODELS" default:"whisper-1,gpt-4o-mini-transcribe" help:"Ordered list of cloud transcription models."`
	Language      string   `name:"language" env:"STT_LANGUAGE" help:"Optional language hint (ISO-639-1)."`

	Provider      string `name:"stt-provider" env:"STT_PROVIDER" default:"cloud" enum:"cloud,offline" help:"Speech-to-text backend."`
	OfflineEngine string `name:"offline-engine" env:"OFFLINE_ENGINE" default:"vosk" enum:"vosk,whispercpp" help:"Local recognizer engine."`
	ModelPath     string `name:"model-path" env:"OFFLINE_MODEL_PATH" help:"Local model directory."`
	ModelURL      string `name:"model-url" env:"OFFLINE_MODEL_URL" help:"Model archive URL used when the model directory is missing."`
	ModelSHA256   string `name:"model-sha256" env:"OFFLINE_MODEL_SHA256" help:"Expected SHA-256 of the model archive."`
	ModelDir      string `name:"model-dir" env:"OFFLINE_MODEL_DIR" default:"~/.voicerelay/models" help:"Model storage directory."`
	FFmpegBin     string `name:"ffmpeg-bin" env:"FFMPEG_BIN" default:"ffmpeg" help:"Transcoder binary, or 'builtin' for the pure-Go decoder."`

	HTTPTimeout  time.Duration `name:"http-timeout" env:"HTTP_TIMEOUT" default:"60s" help:"Timeout for Bot API and speech API calls."`
	MessagesFile string        `name:"messages-file" env:"MESSAGES_FILE" help:"Optional YAML file overriding user-facing messages."`
	Debug        bool          `name:"debug" env:"DEBUG" help:"Verbose logs and raw error text in transcription failure replies."`
	LogFormat    string        `name:"log-format" env:"LOG_FORMAT" default:"text" enum:"text,json" help:"Log output format."`
}

// ValidateServe checks everything the webhook server needs.
func (s Settings) ValidateServe() error {
	if s.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN must be set")
	}
	if s.AppBaseURL != "" {
		if _, err := url.ParseRequestURI(s.AppBaseURL); err != nil {
			return fmt.Errorf("APP_BASE_URL is not a valid URL: %w", err)
		}
	}
	return s.ValidateProvider()
}

// ValidateProvider checks the settings of the selected STT provider.
func (s Settings) ValidateProvider() error {
	switch s.Provider {
	case ProviderCloud:
		if s.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set for the cloud provider")
		}
		if len(s.Models()) == 0 {
			return fmt.Errorf("STT_CLOUD_MODELS must name at least one model")
		}
	case ProviderOffline:
		if s.ModelPath == "" && s.ModelURL == "" && s.ModelDir == "" {
			return fmt.Errorf("offline provider needs OFFLINE_MODEL_PATH or OFFLINE_MODEL_URL")
		}
		if s.FFmpegBin == "" {
			return fmt.Errorf("FFMPEG_BIN must not be empty")
		}
	default:
		return fmt.Errorf("unknown STT provider: %q", s.Provider)
	}
	return nil
}

// Models returns the cloud model list with blanks removed.
func (s Settings) Models() []string {
	models := make([]string, 0, len(s.CloudModels))
	for _, m := range s.CloudModels {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	return models
}

// WebhookURL returns the public webhook target, or "" when no base URL is configured.
func (s Settings) WebhookURL() string {
	if s.AppBaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.AppBaseURL, "/") + WebhookPath
}

// ResolveModelPath returns the local model directory with ~ expanded.
// Priority: explicit path > <dir>/<archive name> > <dir>/model.
func (s Settings) ResolveModelPath() (string, error) {
	if s.ModelPath != "" {
		return paths.ExpandTilde(s.ModelPath)
	}
	dir, err := paths.ExpandTilde(s.ModelDir)
	if err != nil {
		return "", err
	}
	name := archiveBaseName(s.ModelURL)
	if name == "" {
		name = "model"
	}
	return filepath.Join(dir, name), nil
}

var archiveSuffixes = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tgz", ".tbz2", ".txz", ".tar", ".zip"}

func archiveBaseName(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	lower := strings.ToLower(base)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return base[:len(base)-len(suffix)]
		}
	}
	return base
}

// Redact replaces configured secrets in s with "***".
func (s Settings) Redact(text string) string {
	for _, secret := range []string{s.TelegramBotToken, s.OpenAIAPIKey, s.WebhookSecret} {
		if len(secret) >= 4 {
			text = strings.ReplaceAll(text, secret, "***")
		}
	}
	return text
}
