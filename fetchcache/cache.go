// Package fetchcache sits in front of the scrape/search provider. It caches
// results in memory and optionally on disk, collapses concurrent requests
// for the same key into one provider call, retries transient failures, and
// backs off from the provider entirely after a rate limit while serving
// whatever it already has.
//
// Callers never see provider errors: a failed scrape reports ok=false and a
// failed search returns an empty list.
package fetchcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dreamdesk/dreamdesk"
	"github.com/dreamdesk/dreamdesk/diskcache"
	"github.com/dreamdesk/dreamdesk/download"
	"github.com/dreamdesk/dreamdesk/provider"
	"github.com/dreamdesk/dreamdesk/telemetry"
)

// ErrNoProvider is returned by New when no provider is given.
var ErrNoProvider = errors.New("fetchcache: a provider is required")

var errEmpty = errors.New("provider returned empty content")

// PDF markers returned in place of document text.
const (
	pdfSkippedMarker  = "[PDF skipped: %s]"
	pdfUnparsedMarker = "[PDF fetched without parsing: %s]"
)

// PDFSkippedMarker is returned for a PDF under PDFSkip.
func PDFSkippedMarker(url string) string { return fmt.Sprintf(pdfSkippedMarker, url) }

// PDFUnparsedMarker is returned for a PDF under PDFMinimal.
func PDFUnparsedMarker(url string) string { return fmt.Sprintf(pdfUnparsedMarker, url) }

// Cache is safe for concurrent use.
type Cache struct {
	cfg      Config
	provider provider.Provider
	disk     *diskcache.Store
	prober   provider.Prober
	logger   *slog.Logger
	now      func() time.Time

	cooldown cooldown
	pages    *tier[string]
	searches *tier[[]provider.SearchResult]

	// writes tracks background disk writes.
	writes sync.WaitGroup
}

// diskWriteTimeout bounds one background disk write.
const diskWriteTimeout = 10 * time.Second

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithDisk enables the on-disk tier.
func WithDisk(store *diskcache.Store) Option {
	return func(c *Cache) {
		c.disk = store
	}
}

// WithProber enables HEAD probing for URLs that do not end in ".pdf".
func WithProber(p provider.Prober) Option {
	return func(c *Cache) {
		c.prober = p
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a Cache in front of p.
func New(cfg Config, p provider.Provider, opts ...Option) (*Cache, error) {
	if p == nil {
		return nil, ErrNoProvider
	}
	c := &Cache{
		cfg:      cfg.withDefaults(),
		provider: p,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "fetchcache", "provider", p.Name())

	c.pages = &tier[string]{
		kind:    diskcache.Scrape,
		ttl:     c.cfg.ScrapeTTL,
		mem:     newMemory[string](diskcache.Scrape, c.cfg.MaxMemoryEntries),
		flights: download.New[string](download.WithLogger(c.logger)),
		usable:  func(s string) bool { return s != "" },
	}
	c.searches = &tier[[]provider.SearchResult]{
		kind:    diskcache.Search,
		ttl:     c.cfg.SearchTTL,
		mem:     newMemory[[]provider.SearchResult](diskcache.Search, c.cfg.MaxMemoryEntries),
		flights: download.New[[]provider.SearchResult](download.WithLogger(c.logger)),
		usable:  func([]provider.SearchResult) bool { return true },
	}
	return c, nil
}

// Close waits for background disk writes to finish. The cache stays usable
// afterwards.
func (c *Cache) Close() {
	c.writes.Wait()
}

// ScrapeOption tunes a single Scrape.
type ScrapeOption func(*scrapeOptions)

type scrapeOptions struct {
	force bool
}

// WithForce bypasses fresh cache entries. The cooldown still applies.
func WithForce() ScrapeOption {
	return func(o *scrapeOptions) { o.force = true }
}

// SearchOption tunes a single Search.
type SearchOption func(*searchOptions)

type searchOptions struct {
	force       bool
	includePDFs bool
}

// WithForceSearch bypasses fresh cache entries. The cooldown still applies.
func WithForceSearch() SearchOption {
	return func(o *searchOptions) { o.force = true }
}

// WithIncludePDFs keeps results whose path ends in ".pdf".
func WithIncludePDFs() SearchOption {
	return func(o *searchOptions) { o.includePDFs = true }
}

// Scrape returns the page at url as markdown. ok is false when nothing is
// available, fresh or stale.
func (c *Cache) Scrape(ctx context.Context, url string, opts ...ScrapeOption) (string, bool) {
	var o scrapeOptions
	for _, opt := range opts {
		opt(&o)
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return "", false
	}
	key := ScrapeKey(url)

	return get(ctx, c, c.pages, key, o.force, func(ctx context.Context) (string, bool, error) {
		return c.fetchPage(ctx, url)
	})
}

func (c *Cache) fetchPage(ctx context.Context, url string) (string, bool, error) {
	if c.cfg.PDFPolicy != PDFFull && c.isPDF(ctx, url) {
		switch c.cfg.PDFPolicy {
		case PDFSkip:
			telemetry.RecordCacheLookup(ctx, string(diskcache.Scrape), telemetry.CacheSkipped)
			return PDFSkippedMarker(url), false, nil
		case PDFMinimal:
			if _, err := call(ctx, c, diskcache.Scrape, func(ctx context.Context) (string, error) {
				return c.provider.Scrape(ctx, url, provider.ScrapeOptions{SkipPDFParsing: true})
			}); err != nil {
				return "", false, err
			}
			return PDFUnparsedMarker(url), true, nil
		}
	}

	content, err := call(ctx, c, diskcache.Scrape, func(ctx context.Context) (string, error) {
		return c.provider.Scrape(ctx, url, provider.ScrapeOptions{})
	})
	if err != nil {
		return "", false, err
	}
	if strings.TrimSpace(content) == "" {
		return "", false, errEmpty
	}
	return Truncate(content, c.cfg.MaxContentChars), true, nil
}

func (c *Cache) isPDF(ctx context.Context, url string) bool {
	if HasPDFSuffix(url) {
		return true
	}
	if c.prober == nil {
		return false
	}
	isPDF, err := c.prober.IsPDF(ctx, url)
	if err != nil {
		c.logger.Debug("pdf probe failed", "url", url, "error", err)
		return false
	}
	return isPDF
}

// Search returns up to limit results for query in provider order. Results
// whose path ends in ".pdf" are dropped unless WithIncludePDFs is given.
// The returned slice is never nil.
func (c *Cache) Search(ctx context.Context, query string, limit int, opts ...SearchOption) []provider.SearchResult {
	var o searchOptions
	for _, opt := range opts {
		opt(&o)
	}
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []provider.SearchResult{}
	}
	key := SearchKey(query, limit, o.includePDFs)

	results, ok := get(ctx, c, c.searches, key, o.force, func(ctx context.Context) ([]provider.SearchResult, bool, error) {
		raw, err := call(ctx, c, diskcache.Search, func(ctx context.Context) ([]provider.SearchResult, error) {
			return c.provider.Search(ctx, query, limit)
		})
		if err != nil {
			return nil, false, err
		}
		return filterResults(raw, limit, o.includePDFs), true, nil
	})
	if !ok || results == nil {
		return []provider.SearchResult{}
	}
	return results
}

func filterResults(raw []provider.SearchResult, limit int, includePDFs bool) []provider.SearchResult {
	out := make([]provider.SearchResult, 0, min(len(raw), limit))
	for _, r := range raw {
		if len(out) == limit {
			break
		}
		r.URL = strings.TrimSpace(r.URL)
		if r.URL == "" {
			continue
		}
		if !includePDFs && HasPDFSuffix(r.URL) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// IsRateLimited reports whether the cooldown is active.
func (c *Cache) IsRateLimited() bool {
	return c.cooldown.active(c.now())
}

// WarmCache scrapes each URL in turn so later turns hit the cache. It returns
// how many URLs produced content. It stops early when ctx is done.
func (c *Cache) WarmCache(ctx context.Context, urls []string) int {
	warmed := 0
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		if c.warmOne(ctx, u) {
			warmed++
		}
	}
	c.logger.Info("cache warmed", "urls", len(urls), "warmed", warmed)
	return warmed
}

func (c *Cache) warmOne(ctx context.Context, url string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("warming url panicked", "url", url, "panic", r)
			ok = false
		}
	}()
	_, ok = c.Scrape(ctx, url)
	return ok
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Provider          string        `json:"provider"`
	Pages             int           `json:"pages"`
	Searches          int           `json:"searches"`
	InFlight          int           `json:"in_flight"`
	RateLimited       bool          `json:"rate_limited"`
	CooldownRemaining time.Duration `json:"cooldown_remaining_ns"`
	DiskEnabled       bool          `json:"disk_enabled"`
	PDFPolicy         PDFPolicy     `json:"pdf_policy"`
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	now := c.now()
	return Stats{
		Provider:          c.provider.Name(),
		Pages:             c.pages.mem.len(),
		Searches:          c.searches.mem.len(),
		InFlight:          c.pages.flights.InFlight() + c.searches.flights.InFlight(),
		RateLimited:       c.cooldown.active(now),
		CooldownRemaining: c.cooldown.remaining(now),
		DiskEnabled:       c.disk != nil,
		PDFPolicy:         c.cfg.PDFPolicy,
	}
}

// tier is the memory map, disk directory and flight group of one kind.
type tier[T any] struct {
	kind    diskcache.Kind
	ttl     time.Duration
	mem     *memory[T]
	flights *download.Downloader[T]
	usable  func(T) bool
}

// fetchFunc produces a value for a key. store reports whether the value may
// be cached.
type fetchFunc[T any] func(ctx context.Context) (value T, store bool, err error)

// get implements the lookup order shared by scrapes and searches:
// fresh memory, fresh disk, stale while cooling, then one provider call per
// key with stale fallback on failure.
func get[T any](ctx context.Context, c *Cache, t *tier[T], key dreamdesk.Hash, force bool, fetch fetchFunc[T]) (T, bool) {
	if !force {
		if v, ok := lookup(ctx, c, t, key); ok {
			return v, true
		}
	}

	if c.IsRateLimited() {
		return stale(ctx, c, t, key)
	}

	v, shared, err := t.flights.Do(ctx, string(t.kind)+":"+key.String(), func(ctx context.Context) (T, error) {
		// A flight that finished just before this one, or a disk entry
		// for a key evicted from memory, saves the provider call.
		if !force {
			if v, ok := lookup(ctx, c, t, key); ok {
				return v, nil
			}
		}
		v, store, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		if store {
			put(ctx, c, t, key, v)
		}
		return v, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errCooling), provider.IsRateLimited(err):
		case errors.Is(err, provider.ErrUnsupported), errors.Is(err, errEmpty):
			c.logger.Debug("provider returned nothing", "kind", t.kind, "key", key.ShortString(), "error", err)
		case ctx.Err() != nil:
			c.logger.Debug("caller gave up waiting", "kind", t.kind, "key", key.ShortString(), "error", err)
		default:
			c.logger.Warn("provider call failed", "kind", t.kind, "key", key.ShortString(), "error", err)
		}
		return stale(ctx, c, t, key)
	}
	if shared {
		c.logger.Debug("shared in-flight fetch", "kind", t.kind, "key", key.ShortString())
	}
	telemetry.RecordCacheLookup(ctx, string(t.kind), telemetry.CacheMiss)
	return v, true
}

// lookup returns a fresh value from memory, then disk. A disk hit is copied
// into memory with a fresh TTL. An expired disk entry is kept in memory at
// its original expiry so it can still be served stale.
func lookup[T any](ctx context.Context, c *Cache, t *tier[T], key dreamdesk.Hash) (T, bool) {
	var zero T
	now := c.now()
	if e, ok := t.mem.get(key); ok && now.Before(e.expires) {
		telemetry.RecordCacheLookup(ctx, string(t.kind), telemetry.CacheHitMemory)
		return e.payload, true
	}
	if c.disk == nil {
		return zero, false
	}

	entry, err := c.disk.Get(ctx, t.kind, key, now)
	switch {
	case err == nil:
		if v, ok := decode(t, entry); ok {
			t.mem.put(key, v, now.Add(t.ttl))
			telemetry.RecordCacheLookup(ctx, string(t.kind), telemetry.CacheHitDisk)
			return v, true
		}
	case errors.Is(err, diskcache.ErrExpired):
		if v, ok := decode(t, entry); ok {
			t.mem.seed(key, v, entry.Expires)
		}
	case errors.Is(err, diskcache.ErrMiss):
	default:
		c.logger.Warn("disk cache read failed", "kind", t.kind, "key", key.ShortString(), "error", err)
	}
	return zero, false
}

// stale returns the best value on hand regardless of age: memory, else disk,
// else nothing.
func stale[T any](ctx context.Context, c *Cache, t *tier[T], key dreamdesk.Hash) (T, bool) {
	var zero T
	if e, ok := t.mem.get(key); ok {
		telemetry.RecordCacheLookup(ctx, string(t.kind), telemetry.CacheStale)
		return e.payload, true
	}
	if c.disk != nil {
		entry, err := c.disk.Peek(ctx, t.kind, key)
		if err == nil {
			if v, ok := decode(t, entry); ok {
				telemetry.RecordCacheLookup(ctx, string(t.kind), telemetry.CacheStale)
				return v, true
			}
		} else if !errors.Is(err, diskcache.ErrMiss) {
			c.logger.Warn("disk cache read failed", "kind", t.kind, "key", key.ShortString(), "error", err)
		}
	}
	telemetry.RecordCacheLookup(ctx, string(t.kind), telemetry.CacheMiss)
	return zero, false
}

// put stores v in memory, then writes it to disk in the background so
// waiters on the flight are released without touching the filesystem.
func put[T any](ctx context.Context, c *Cache, t *tier[T], key dreamdesk.Hash, v T) {
	expires := c.now().Add(t.ttl)
	t.mem.put(key, v, expires)
	if c.disk == nil {
		return
	}
	c.writes.Go(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diskWriteTimeout)
		defer cancel()
		if err := c.disk.Put(ctx, t.kind, key, expires, v); err != nil {
			c.logger.Warn("disk cache write failed", "kind", t.kind, "key", key.ShortString(), "error", err)
		}
	})
}

func decode[T any](t *tier[T], entry diskcache.Entry) (T, bool) {
	var v T
	if entry.IsNull() {
		return v, false
	}
	if err := entry.Decode(&v); err != nil {
		return v, false
	}
	return v, t.usable(v)
}
