package fetchcache

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dreamdesk/dreamdesk/diskcache"
	"github.com/dreamdesk/dreamdesk/provider"
	"github.com/dreamdesk/dreamdesk/telemetry"
)

// errCooling is returned when a provider call is suppressed by the
// rate-limit cooldown.
var errCooling = errors.New("provider is cooling down after a rate limit")

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

// call runs op against the provider, retrying transient statuses with linear
// backoff. A 429 trips the cooldown and is never retried; nothing is sent
// while the cooldown is active.
func call[T any](ctx context.Context, c *Cache, kind diskcache.Kind, op func(context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		var zero T
		if c.cooldown.active(c.now()) {
			return zero, backoff.Permanent(errCooling)
		}

		v, err := op(ctx)
		switch {
		case err == nil:
			return v, nil
		case provider.IsRateLimited(err):
			until := c.cooldown.trip(c.now(), c.cfg.Cooldown)
			telemetry.RecordCooldownTrip(ctx, string(kind))
			c.logger.Warn("provider rate limited, cooling down",
				"kind", kind,
				"until", until.Format(time.RFC3339),
			)
			return zero, backoff.Permanent(err)
		case provider.IsTransient(err):
			return zero, err
		default:
			return zero, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(&linearBackOff{step: c.cfg.RetryBackoff}),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			telemetry.RecordFetchRetry(ctx, string(kind), provider.StatusCode(err))
			c.logger.Debug("retrying provider call", "kind", kind, "error", err, "wait", wait)
		}),
	)
}
