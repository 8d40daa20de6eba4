// Package app assembles the relay from settings: provider selection, model
// provisioning, Telegram client, controller and HTTP server.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/roelfdiedericks/voicerelay/internal/config"
	httpserver "github.com/roelfdiedericks/voicerelay/internal/http"
	. "github.com/roelfdiedericks/voicerelay/internal/logging"
	"github.com/roelfdiedericks/voicerelay/internal/metrics"
	"github.com/roelfdiedericks/voicerelay/internal/relay"
	"github.com/roelfdiedericks/voicerelay/internal/stt"
	"github.com/roelfdiedericks/voicerelay/internal/telegram"
)

// ShutdownTimeout bounds how long in-flight updates may run after a signal.
const ShutdownTimeout = 30 * time.Second

// ProvisionModel makes sure the offline model directory is present,
// downloading and unpacking OFFLINE_MODEL_URL when it is not.
func ProvisionModel(ctx context.Context, s config.Settings) (string, error) {
	target, err := s.ResolveModelPath()
	if err != nil {
		return "", fmt.Errorf("resolve model path: %w", err)
	}
	start := time.Now()
	path, err := stt.NewProvisioner().EnsureModel(ctx, target, s.ModelURL, s.ModelSHA256)
	if err != nil {
		return "", err
	}
	L_elapsed(start, "app: model ready", "path", path)
	return path, nil
}

// BuildProvider constructs the configured STT provider. For the offline
// provider the transcoder and engine are checked first, then the model is
// provisioned. m may be nil.
func BuildProvider(ctx context.Context, s config.Settings, m *metrics.Metrics) (stt.Provider, error) {
	if err := s.ValidateProvider(); err != nil {
		return nil, err
	}

	switch s.Provider {
	case config.ProviderCloud:
		p, err := stt.NewOpenAIProvider(stt.OpenAIConfig{
			APIKey:  s.OpenAIAPIKey,
			OrgID:   s.OpenAIOrg,
			Project: s.OpenAIProject,
			BaseURL: s.OpenAIBaseURL,
			Models:  s.Models(),
			Timeout: s.HTTPTimeout,
		})
		if err != nil {
			return nil, err
		}
		p.OnAttempt(m.ObserveCloudAttempt)
		L_info("app: cloud STT ready", "models", p.Models())
		return p, nil

	case config.ProviderOffline:
		normalizer, err := newNormalizer(s.FFmpegBin)
		if err != nil {
			return nil, err
		}
		newEngine, err := lookupEngine(s.OfflineEngine)
		if err != nil {
			return nil, err
		}
		modelPath, err := ProvisionModel(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("provision model: %w", err)
		}
		engine, err := newEngine(s, modelPath)
		if err != nil {
			return nil, err
		}
		p, err := stt.NewOfflineProvider(normalizer, engine)
		if err != nil {
			engine.Close()
			return nil, err
		}
		L_info("app: offline STT ready", "engine", engine.Name(), "model", modelPath, "transcoder", s.FFmpegBin)
		return p, nil
	}

	return nil, fmt.Errorf("unknown STT provider: %q", s.Provider)
}

func newNormalizer(bin string) (stt.Normalizer, error) {
	if bin == config.BuiltinTranscoder {
		return stt.NewOpusNormalizer(), nil
	}
	return stt.NewFFmpegNormalizer(bin, stt.DefaultTranscodeTimeout)
}

// Serve runs the webhook server until ctx is cancelled.
func Serve(ctx context.Context, s config.Settings, version string) error {
	if err := s.ValidateServe(); err != nil {
		return err
	}
	L_info("voicerelay starting", "version", version, "provider", s.Provider, "listen", s.Listen)

	messages, err := relay.LoadMessages(s.MessagesFile)
	if err != nil {
		return err
	}

	m := metrics.New()

	provider, err := BuildProvider(ctx, s, m)
	if err != nil {
		return fmt.Errorf("stt provider: %w", err)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			L_warn("app: provider close failed", "error", err)
		}
	}()

	bot, err := telegram.New(telegram.ClientConfig{
		BotToken: s.TelegramBotToken,
		APIURL:   s.TelegramAPIURL,
		Timeout:  s.HTTPTimeout,
	})
	if err != nil {
		return err
	}

	controller := relay.NewController(bot, provider, messages, relay.Options{
		Language: s.Language,
		Debug:    s.Debug,
		Redact:   s.Redact,
	}, m)

	server, err := httpserver.NewServer(httpserver.ServerConfig{
		Listen:        s.Listen,
		WebhookSecret: s.WebhookSecret,
	}, controller, m)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	if url := s.WebhookURL(); url != "" {
		if err := bot.SetWebhook(url, s.WebhookSecret); err != nil {
			L_warn("app: webhook registration failed", "url", url, "error", s.Redact(err.Error()))
		}
	}

	L_info("voicerelay ready", "addr", server.Addr())
	<-ctx.Done()

	SetShuttingDown()
	L_info("voicerelay shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return server.Stop(stopCtx)
}

// TranscribeFile runs the configured provider on a local audio file.
func TranscribeFile(ctx context.Context, s config.Settings, path string) (string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}

	provider, err := BuildProvider(ctx, s, nil)
	if err != nil {
		return "", err
	}
	defer provider.Close()

	start := time.Now()
	text, err := provider.Transcribe(ctx, audio, s.Language)
	if err != nil {
		return "", err
	}
	L_elapsed(start, "app: transcribed", "provider", provider.Name(), "bytes", len(audio))
	return text, nil
}
