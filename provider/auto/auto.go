// Package auto picks the provider implementation from configuration.
package auto

import (
	"log/slog"
	"strings"
	"time"

	"github.com/dreamdesk/dreamdesk/provider"
	"github.com/dreamdesk/dreamdesk/provider/direct"
	"github.com/dreamdesk/dreamdesk/provider/firecrawl"
)

// Config carries the settings shared by all providers.
type Config struct {
	APIKey         string
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Logger         *slog.Logger
}

// Select returns the hosted Firecrawl client when an API key is configured
// and the direct fetcher otherwise.
func Select(cfg Config) (provider.Provider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Warn("no provider API key configured, falling back to direct fetching; search is disabled")
		return direct.New(direct.Config{
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			Logger:         logger,
		}), nil
	}

	return firecrawl.New(firecrawl.Config{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		Logger:         logger,
	})
}
