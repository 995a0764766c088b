// Package expiry runs a background reaper over the on-disk fetch cache.
//
// Expired documents are still useful as stale fallbacks while the provider
// is rate limited, so the reaper only removes entries that expired longer
// ago than the configured retention.
package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dreamdesk/dreamdesk/diskcache"
	"github.com/dreamdesk/dreamdesk/telemetry"
)

// Sweeper deletes cache entries that expired before a cutoff.
type Sweeper interface {
	Sweep(ctx context.Context, cutoff time.Time) (diskcache.SweepResult, error)
}

// Config holds reaper configuration.
type Config struct {
	// Retention is how long an expired entry is kept as a stale fallback.
	// Default is 7 days.
	Retention time.Duration

	// CheckInterval is how often to sweep.
	// Default is 1 hour.
	CheckInterval time.Duration

	// Logger for reaper events.
	Logger *slog.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Retention:     7 * 24 * time.Hour,
		CheckInterval: time.Hour,
		Logger:        slog.Default(),
	}
}

// Manager periodically sweeps the disk cache.
type Manager struct {
	config  Config
	sweeper Sweeper
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewManager creates a new reaper.
func NewManager(s Sweeper, cfg Config) *Manager {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Hour
	}
	if cfg.Retention == 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		config:  cfg,
		sweeper: s,
		logger:  cfg.Logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins background sweeps.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped || m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// Stop stops background sweeps and waits for the current one to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	m.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// ExpireResult contains the results of a sweep.
type ExpireResult struct {
	Scanned  int
	Deleted  int
	Errors   int
	Duration time.Duration
}

// RunOnce performs a single sweep.
func (m *Manager) RunOnce(ctx context.Context) *ExpireResult {
	return m.runOnce(ctx)
}

func (m *Manager) runOnce(ctx context.Context) *ExpireResult {
	start := m.now()
	result := &ExpireResult{}

	m.logger.Debug("starting disk cache sweep")

	res, err := m.sweeper.Sweep(ctx, start.Add(-m.config.Retention))
	result.Scanned = res.Scanned
	result.Deleted = res.Deleted
	result.Errors = res.Errors
	if err != nil {
		m.logger.Error("disk cache sweep failed", "error", err)
		result.Errors++
	}
	result.Duration = m.now().Sub(start)

	telemetry.RecordReaperCycle(ctx, "disk", result.Deleted, result.Duration)

	if result.Deleted > 0 {
		m.logger.Info("disk cache sweep complete",
			"scanned", result.Scanned,
			"deleted", result.Deleted,
			"errors", result.Errors,
			"duration", result.Duration,
		)
	} else {
		m.logger.Debug("disk cache sweep complete, nothing to delete", "scanned", result.Scanned)
	}

	return result
}
