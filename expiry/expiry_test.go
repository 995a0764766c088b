package expiry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dreamdesk/dreamdesk"
	"github.com/dreamdesk/dreamdesk/backend"
	"github.com/dreamdesk/dreamdesk/diskcache"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManagerRunOnce_RespectsRetention(t *testing.T) {
	fs, err := backend.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	store := diskcache.New(fs)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	recent := dreamdesk.HashString("recently expired")
	ancient := dreamdesk.HashString("long expired")
	fresh := dreamdesk.HashString("fresh")

	require.NoError(t, store.Put(ctx, diskcache.Scrape, recent, now.Add(-time.Hour), "still a useful stale copy"))
	require.NoError(t, store.Put(ctx, diskcache.Scrape, ancient, now.Add(-30*24*time.Hour), "gone"))
	require.NoError(t, store.Put(ctx, diskcache.Search, fresh, now.Add(time.Hour), []string{}))

	mgr := NewManager(store, Config{Retention: 7 * 24 * time.Hour, Logger: discardLogger()})
	mgr.now = func() time.Time { return now }

	result := mgr.RunOnce(ctx)
	require.Equal(t, 3, result.Scanned)
	require.Equal(t, 1, result.Deleted)
	require.Zero(t, result.Errors)

	_, err = store.Peek(ctx, diskcache.Scrape, recent)
	require.NoError(t, err)
	_, err = store.Peek(ctx, diskcache.Scrape, ancient)
	require.ErrorIs(t, err, diskcache.ErrMiss)
}

type fakeSweeper struct {
	mu     sync.Mutex
	calls  int
	err    error
	called chan struct{}
}

func (f *fakeSweeper) Sweep(ctx context.Context, cutoff time.Time) (diskcache.SweepResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	select {
	case f.called <- struct{}{}:
	default:
	}
	return diskcache.SweepResult{Scanned: 1}, f.err
}

func TestManagerRunOnce_SweepError(t *testing.T) {
	s := &fakeSweeper{err: errors.New("disk unavailable"), called: make(chan struct{}, 1)}
	mgr := NewManager(s, Config{Logger: discardLogger()})

	result := mgr.RunOnce(context.Background())
	require.Equal(t, 1, result.Errors)
	require.Equal(t, 1, result.Scanned)
}

func TestManagerStartStop(t *testing.T) {
	s := &fakeSweeper{called: make(chan struct{}, 1)}
	mgr := NewManager(s, Config{CheckInterval: time.Hour, Logger: discardLogger()})

	require.NoError(t, mgr.Start(context.Background()))
	// second Start is a no-op
	require.NoError(t, mgr.Start(context.Background()))

	select {
	case <-s.called:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run on start")
	}

	mgr.Stop()
	mgr.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, 1, s.calls)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 7*24*time.Hour, cfg.Retention)
	require.Equal(t, time.Hour, cfg.CheckInterval)
}
