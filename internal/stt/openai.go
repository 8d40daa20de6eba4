package stt

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	. "github.com/roelfdiedericks/voicerelay/internal/logging"
)

// DefaultCloudModels is the primary engine followed by the cheaper fallback.
var DefaultCloudModels = []string{"whisper-1", "gpt-4o-mini-transcribe"}

// voiceFileName tells the API which container the bytes are in.
const voiceFileName = "voice.ogg"

// transcriptionClient is the subset of *openai.Client used here.
type transcriptionClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// OpenAIConfig holds OpenAI transcription configuration.
type OpenAIConfig struct {
	APIKey  string
	OrgID   string
	Project string
	BaseURL string
	Models  []string
	Timeout time.Duration
}

// OpenAIProvider implements STT using OpenAI's transcription API.
// It walks an ordered model list until one returns non-empty text.
type OpenAIProvider struct {
	client    transcriptionClient
	models    []string
	onAttempt AttemptObserver
}

// projectTransport adds the OpenAI-Project header, which go-openai does not set itself.
type projectTransport struct {
	project string
	base    http.RoundTripper
}

func (t *projectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("OpenAI-Project", t.project)
	if t.base == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return t.base.RoundTrip(req)
}

// NewOpenAIProvider creates a new OpenAI transcription provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.OrgID = cfg.OrgID
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.Project != "" {
		transport = &projectTransport{project: cfg.Project, base: transport}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	config.HTTPClient = &http.Client{Transport: transport, Timeout: timeout}

	models := cfg.Models
	if len(models) == 0 {
		models = DefaultCloudModels
	}

	L_info("stt: openai provider initialized", "models", strings.Join(models, ","), "keyLength", len(cfg.APIKey))

	return newOpenAIProvider(openai.NewClientWithConfig(config), models), nil
}

func newOpenAIProvider(client transcriptionClient, models []string) *OpenAIProvider {
	return &OpenAIProvider{
		client: client,
		models: append([]string(nil), models...),
	}
}

// OnAttempt registers an observer for per-model attempts. Call before serving.
func (o *OpenAIProvider) OnAttempt(fn AttemptObserver) {
	o.onAttempt = fn
}

// Models returns the ordered candidate list.
func (o *OpenAIProvider) Models() []string {
	return append([]string(nil), o.models...)
}

// Transcribe tries each model in order. OpenAI accepts OGG/Opus directly.
// The first non-empty transcript wins; errors and empty results move on to
// the next model. If nothing produced text, the last error is returned, or
// "" when every model simply found no speech.
func (o *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	var lastErr error

	for _, model := range o.models {
		if ctx.Err() != nil {
			break
		}

		req := openai.AudioRequest{
			Model:    model,
			FilePath: voiceFileName,
			Reader:   bytes.NewReader(audio), // fresh reader: every attempt starts at byte 0
		}
		if language != "" {
			req.Language = language
		}

		L_debug("stt: openai transcribing", "model", model, "bytes", len(audio), "language", language)

		resp, err := o.client.CreateTranscription(ctx, req)
		if err != nil {
			L_warn("stt: openai model failed", "model", model, "error", err)
			o.observe(model, "error")
			lastErr = fmt.Errorf("openai %s: %w", model, err)
			continue
		}

		text := strings.TrimSpace(resp.Text)
		if text == "" {
			L_debug("stt: openai model returned no text", "model", model)
			o.observe(model, "empty")
			continue
		}

		o.observe(model, "ok")
		L_debug("stt: openai transcription complete", "model", model, "length", len(text))
		return text, nil
	}

	if lastErr == nil && ctx.Err() != nil {
		return "", ctx.Err()
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", nil
}

func (o *OpenAIProvider) observe(model, result string) {
	if o.onAttempt != nil {
		o.onAttempt(model, result)
	}
}

// Name returns the provider name.
func (o *OpenAIProvider) Name() string {
	return "openai"
}

// Close releases any resources (none for HTTP client).
func (o *OpenAIProvider) Close() error {
	return nil
}
