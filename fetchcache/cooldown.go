package fetchcache

import (
	"sync"
	"time"
)

// cooldown is the process-wide rate-limit gate shared by scrapes and
// searches.
type cooldown struct {
	mu    sync.Mutex
	until time.Time
}

func (c *cooldown) active(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Before(c.until)
}

func (c *cooldown) remaining(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d := c.until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// trip extends the cooldown to now+d. It never shortens an active one.
func (c *cooldown) trip(now time.Time, d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until := now.Add(d); until.After(c.until) {
		c.until = until
	}
	return c.until
}
