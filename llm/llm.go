// Package llm wraps the chat-completion providers behind a single
// system-plus-user Complete call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dreamdesk/dreamdesk/telemetry"
)

// ErrNoCredentials is returned by New when the selected provider has no API
// key.
var ErrNoCredentials = errors.New("llm: no API key configured for the selected provider")

// Client completes a single system+user exchange.
type Client interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config selects and configures a provider.
type Config struct {
	Provider string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	Temperature float64

	Logger *slog.Logger
}

// Default models.
const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultTemperature = 0.1
)

// New returns the configured client wrapped with call metrics.
func New(ctx context.Context, cfg Config) (Client, error) {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var (
		c   Client
		err error
	)
	switch p := strings.ToLower(strings.TrimSpace(cfg.Provider)); p {
	case "", ProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, ErrNoCredentials
		}
		c = NewOpenAI(OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			BaseURL:     cfg.OpenAIBaseURL,
			Temperature: cfg.Temperature,
		})
	case ProviderGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, ErrNoCredentials
		}
		c, err = NewGemini(ctx, GeminiConfig{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.GeminiModel,
			BaseURL:     cfg.GeminiBaseURL,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("llm: unknown provider %q (want openai or gemini)", cfg.Provider)
	}

	cfg.Logger.Info("llm client configured", "provider", c.Name())
	return Instrument(c, cfg.Logger), nil
}

type purposeKey struct{}

// WithPurpose labels calls made with ctx for metrics and logs, e.g.
// "classify" or "answer".
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

func purposeFrom(ctx context.Context) string {
	if p, ok := ctx.Value(purposeKey{}).(string); ok {
		return p
	}
	return "unknown"
}

type instrumented struct {
	inner  Client
	logger *slog.Logger
}

// Instrument records every call's duration and outcome.
func Instrument(c Client, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &instrumented{inner: c, logger: logger.With("component", "llm", "provider", c.Name())}
}

func (i *instrumented) Name() string { return i.inner.Name() }

func (i *instrumented) Complete(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	out, err := i.inner.Complete(ctx, system, user)
	dur := time.Since(start)

	outcome := "success"
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		outcome = "canceled"
	case err != nil:
		outcome = "error"
	}
	purpose := purposeFrom(ctx)
	telemetry.RecordLLMCall(ctx, i.inner.Name(), purpose, outcome, dur)

	if err != nil {
		i.logger.Warn("llm call failed", "purpose", purpose, "duration", dur, "error", err)
		return "", err
	}
	i.logger.Debug("llm call", "purpose", purpose, "duration", dur, "chars", len(out))
	return out, nil
}
