// Package download provides singleflight-based deduplication for concurrent
// provider fetches. When several turns ask for the same uncached page or
// query at once, only one provider call is performed and every waiter gets
// its result.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// FetchFunc performs the provider call for one key.
// The context passed to FetchFunc is detached from any single caller so that
// one caller timing out does not cancel the fetch for other waiters.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Downloader deduplicates concurrent fetches for the same key using
// singleflight. It uses DoChan so each caller can respect its own context
// deadline without cancelling the in-flight fetch for others.
type Downloader[T any] struct {
	group    singleflight.Group
	logger   *slog.Logger
	inflight atomic.Int64
}

// Option configures a Downloader.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for the downloader.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a new Downloader.
func New[T any](opts ...Option) *Downloader[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Downloader[T]{logger: o.logger}
}

// Do deduplicates concurrent fetches for the same key.
// Returns the result, whether it was shared with another caller, and any
// error.
//
// If the caller's context expires before the fetch completes, Do returns the
// context error but the in-flight fetch continues for other waiters.
func (d *Downloader[T]) Do(ctx context.Context, key string, fn FetchFunc[T]) (T, bool, error) {
	ch := d.group.DoChan(key, func() (val any, err error) {
		d.inflight.Add(1)
		defer d.inflight.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("fetch panicked", "key", key, "panic", r)
				err = fmt.Errorf("fetch %s panicked: %v", key, r)
			}
		}()
		return fn(context.WithoutCancel(ctx))
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

// InFlight reports how many fetches are currently running.
func (d *Downloader[T]) InFlight() int {
	return int(d.inflight.Load())
}
