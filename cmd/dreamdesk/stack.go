package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dreamdesk/dreamdesk/agent"
	"github.com/dreamdesk/dreamdesk/backend"
	"github.com/dreamdesk/dreamdesk/credentials"
	"github.com/dreamdesk/dreamdesk/credentials/opprovider"
	"github.com/dreamdesk/dreamdesk/curator"
	"github.com/dreamdesk/dreamdesk/diskcache"
	"github.com/dreamdesk/dreamdesk/expiry"
	"github.com/dreamdesk/dreamdesk/fetchcache"
	"github.com/dreamdesk/dreamdesk/llm"
	"github.com/dreamdesk/dreamdesk/provider"
	"github.com/dreamdesk/dreamdesk/provider/auto"
	"github.com/dreamdesk/dreamdesk/session"
	"github.com/dreamdesk/dreamdesk/synth"
	"github.com/dreamdesk/dreamdesk/telemetry"
)

// stack is the assembled question-answering pipeline.
type stack struct {
	cache    *fetchcache.Cache
	curator  *curator.Curator
	agent    *agent.Agent
	sessions session.Store
	reaper   *expiry.Manager
}

// Close waits for pending cache writes and releases the session store.
func (s *stack) Close() {
	s.cache.Close()
	if err := s.sessions.Close(); err != nil {
		slog.Warn("closing session store", "error", err)
	}
}

// pruneSessions drops idle sessions from stores that do not expire on their
// own. It returns when ctx is done.
func (s *stack) pruneSessions(ctx context.Context, logger *slog.Logger) {
	bolt, ok := s.sessions.(*session.BoltStore)
	if !ok {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if n, err := bolt.Prune(); err != nil {
			logger.Warn("pruning sessions failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned idle sessions", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// applyCredentials overlays secrets from the credentials template, when one
// is configured, over the values taken from flags and the environment.
func (g *Globals) applyCredentials(ctx context.Context, authToken *string) error {
	if g.CredentialsFile == "" {
		return nil
	}
	r := credentials.NewResolver(
		credentials.WithLogger(g.logger),
		opprovider.WithOnePassword(),
	)
	creds, err := r.ResolveFile(ctx, g.CredentialsFile)
	if err != nil {
		return fmt.Errorf("resolving credentials: %w", err)
	}
	creds.Overlay(
		&g.Provider.FirecrawlAPIKey,
		&g.LLM.OpenAIAPIKey,
		&g.LLM.GeminiAPIKey,
		&g.Session.ValkeyPassword,
		authToken,
	)
	return nil
}

// buildCache assembles the provider, the optional disk tier and the fetch
// cache. The disk store is nil when no cache directory is configured.
func (g *Globals) buildCache() (*fetchcache.Cache, *diskcache.Store, error) {
	logger := g.logger

	p, err := auto.Select(auto.Config{
		APIKey:         g.Provider.FirecrawlAPIKey,
		BaseURL:        g.Provider.FirecrawlURL,
		ConnectTimeout: g.Provider.ConnectTimeout,
		ReadTimeout:    g.Provider.ReadTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating provider: %w", err)
	}

	policy, err := fetchcache.ParsePDFPolicy(g.Cache.PDFPolicy)
	if err != nil {
		return nil, nil, err
	}

	probeClient := &http.Client{Transport: telemetry.NewInstrumentedTransport(http.DefaultTransport, "probe")}
	opts := []fetchcache.Option{
		fetchcache.WithLogger(logger),
		fetchcache.WithProber(provider.NewHeadProber(probeClient, g.Provider.ProbeTimeout)),
	}

	var disk *diskcache.Store
	if g.Cache.CacheDir != "" {
		fs, err := backend.NewFilesystem(g.Cache.CacheDir)
		if err != nil {
			return nil, nil, fmt.Errorf("creating cache directory: %w", err)
		}
		disk = diskcache.New(backend.NewInstrumentedBackend(fs, "filesystem"), diskcache.WithLogger(logger))
		opts = append(opts, fetchcache.WithDisk(disk))
		logger.Info("disk cache enabled", "root", fs.Root())
	}

	cache, err := fetchcache.New(fetchcache.Config{
		ScrapeTTL:        g.Cache.ScrapeTTL,
		SearchTTL:        g.Cache.SearchTTL,
		Cooldown:         g.Cache.Cooldown,
		PDFPolicy:        policy,
		MaxAttempts:      g.Cache.MaxAttempts,
		RetryBackoff:     g.Cache.RetryBackoff,
		MaxContentChars:  g.Cache.MaxContentChars,
		MaxMemoryEntries: g.Cache.MemoryEntries,
	}, p, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating fetch cache: %w", err)
	}
	return cache, disk, nil
}

func (g *Globals) reaper(disk *diskcache.Store) *expiry.Manager {
	return expiry.NewManager(disk, expiry.Config{
		Retention:     g.Cache.StaleRetention,
		CheckInterval: g.Cache.ReapInterval,
		Logger:        g.logger,
	})
}

func (g *Globals) buildSessions() (session.Store, error) {
	switch g.Session.SessionStore {
	case "bolt":
		s, err := session.OpenBolt(g.Session.SessionPath, g.Session.SessionTTL, session.WithBoltLogger(g.logger))
		if err != nil {
			return nil, fmt.Errorf("opening session database: %w", err)
		}
		return s, nil
	case "valkey":
		s, err := session.NewValkeyStore(session.ValkeyConfig{
			Address:  g.Session.ValkeyAddress,
			Password: g.Session.ValkeyPassword,
			DB:       g.Session.ValkeyDB,
			Prefix:   g.Session.ValkeyPrefix,
			TTL:      g.Session.SessionTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting session store: %w", err)
		}
		return s, nil
	default:
		return session.NewMemoryStore(g.Session.SessionTTL), nil
	}
}

// buildStack assembles everything a chat turn needs.
func (g *Globals) buildStack(ctx context.Context) (*stack, error) {
	logger := g.logger

	cache, disk, err := g.buildCache()
	if err != nil {
		return nil, err
	}

	catalog, err := g.catalog()
	if err != nil {
		return nil, err
	}
	cur := curator.New(cache, catalog, curator.Config{
		MaxScrapes:       g.Curator.MaxScrapes,
		MaxExternal:      g.Curator.MaxExternal,
		MaxContextChars:  g.Curator.MaxContextChars,
		SoftSearchBudget: g.Curator.SoftSearchTimeout,
		FastBootWindow:   g.Curator.FastBootWindow,
		FastMode:         g.Curator.FastMode,
	}, curator.WithLogger(logger))

	client, err := llm.New(ctx, llm.Config{
		Provider:     g.LLM.LLMProvider,
		OpenAIAPIKey: g.LLM.OpenAIAPIKey,
		OpenAIModel:  g.LLM.OpenAIModel,
		GeminiAPIKey: g.LLM.GeminiAPIKey,
		GeminiModel:  g.LLM.GeminiModel,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", g.LLM.LLMProvider, err)
	}

	sessions, err := g.buildSessions()
	if err != nil {
		return nil, err
	}

	st := &stack{
		cache:    cache,
		curator:  cur,
		sessions: sessions,
		agent: agent.New(
			agent.Config{TurnDeadline: g.Curator.TurnDeadline},
			sessions,
			cur,
			synth.New(client, synth.WithLogger(logger)),
			agent.WithLogger(logger),
		),
	}

	if disk != nil && g.Cache.ReapInterval > 0 {
		st.reaper = g.reaper(disk)
	}
	return st, nil
}
