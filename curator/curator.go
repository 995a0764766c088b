// Package curator gathers the page content an answer is grounded on: the
// always-on curated pages, intent-specific seeds, and allowed search hits,
// all fetched through the fetch cache.
package curator

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dreamdesk/dreamdesk/allowlist"
	"github.com/dreamdesk/dreamdesk/fetchcache"
	"github.com/dreamdesk/dreamdesk/provider"
)

// Fetcher is the slice of the fetch cache the curator uses.
type Fetcher interface {
	Scrape(ctx context.Context, url string, opts ...fetchcache.ScrapeOption) (string, bool)
	Search(ctx context.Context, query string, limit int, opts ...fetchcache.SearchOption) []provider.SearchResult
	IsRateLimited() bool
}

// Config holds the per-turn budgets.
type Config struct {
	// MaxScrapes bounds how many search hits are scraped per turn. Default 5.
	MaxScrapes int

	// MaxExternal bounds how many allowed search hits are kept. Default 6.
	MaxExternal int

	// MaxContextChars truncates each content item. Default 6000.
	MaxContextChars int

	// SoftSearchBudget stops issuing new search variants once elapsed.
	// Default 8s.
	SoftSearchBudget time.Duration

	// SearchLimit is the result limit per search call. Default 6.
	SearchLimit int

	// FastBootWindow serves catalog snippets instead of fetching for this
	// long after New. Zero disables it.
	FastBootWindow time.Duration

	// FastMode always serves catalog snippets.
	FastMode bool
}

func (c Config) withDefaults() Config {
	if c.MaxScrapes <= 0 {
		c.MaxScrapes = 5
	}
	if c.MaxExternal <= 0 {
		c.MaxExternal = 6
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = 6000
	}
	if c.SoftSearchBudget <= 0 {
		c.SoftSearchBudget = 8 * time.Second
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 6
	}
	return c
}

// Item is one piece of context.
type Item struct {
	URL     string
	Title   string
	Content string
}

// Source is a citation for the answer.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Bundle is the context collected for one turn.
type Bundle struct {
	Items []Item
}

// Merged renders the bundle as the LLM context block.
func (b Bundle) Merged() string {
	parts := make([]string, 0, len(b.Items))
	for _, it := range b.Items {
		parts = append(parts, "URL: "+it.URL+"\n\n"+it.Content)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// Sources returns the item URLs, first occurrence wins.
func (b Bundle) Sources() []Source {
	seen := make(map[string]bool, len(b.Items))
	out := make([]Source, 0, len(b.Items))
	for _, it := range b.Items {
		if seen[it.URL] {
			continue
		}
		seen[it.URL] = true
		out = append(out, Source{URL: it.URL, Title: it.Title})
	}
	return out
}

// Curator collects context bundles.
type Curator struct {
	fetch   Fetcher
	catalog *Catalog
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	booted  time.Time
}

// Option configures a Curator.
type Option func(*Curator)

// WithLogger sets the logger for the curator.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Curator) {
		c.logger = logger
	}
}

// WithClock overrides the time source used for the search budget.
func WithClock(now func() time.Time) Option {
	return func(c *Curator) {
		c.now = now
	}
}

// New creates a Curator. A nil catalog selects DefaultCatalog.
func New(f Fetcher, catalog *Catalog, cfg Config, opts ...Option) *Curator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	c := &Curator{
		fetch:   f,
		catalog: catalog,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "curator")
	c.booted = c.now()
	return c
}

// snippetsOnly reports whether Collect should skip the network.
func (c *Curator) snippetsOnly() bool {
	if c.cfg.FastMode {
		return true
	}
	return c.cfg.FastBootWindow > 0 && c.now().Sub(c.booted) < c.cfg.FastBootWindow
}

// Catalog returns the catalog in use.
func (c *Curator) Catalog() *Catalog {
	return c.catalog
}

// Collect gathers context for query under intent.
func (c *Curator) Collect(ctx context.Context, intent, query string) Bundle {
	if c.snippetsOnly() {
		c.logger.Debug("serving catalog snippets", "intent", intent, "fast_mode", c.cfg.FastMode)
		return c.StaticBundle(intent)
	}

	var b Bundle
	seen := make(map[string]bool)
	add := func(url, title, content string) {
		b.Items = append(b.Items, Item{
			URL:     url,
			Title:   title,
			Content: fetchcache.Truncate(content, c.cfg.MaxContextChars),
		})
		seen[url] = true
	}

	pages := c.catalog.Curated
	if c.catalog.UsesSeeds(intent) {
		pages = slices.Concat(pages, c.catalog.Seeds)
	}
	for _, p := range pages {
		if ctx.Err() != nil {
			break
		}
		if md, ok := c.fetch.Scrape(ctx, p.URL); ok && md != "" {
			add(p.URL, p.Title, md)
		}
	}

	hits := c.searchHits(ctx, intent, query)

	if !c.fetch.IsRateLimited() {
		scraped := 0
		for _, h := range hits {
			if scraped >= c.cfg.MaxScrapes || ctx.Err() != nil {
				break
			}
			if seen[h.URL] {
				continue
			}
			if md, ok := c.fetch.Scrape(ctx, h.URL); ok && md != "" {
				add(h.URL, h.Title, md)
				scraped++
			}
		}
	}

	if len(b.Items) == 0 {
		c.logger.Info("no content collected, using curated snippets", "intent", intent)
		for _, p := range c.catalog.Curated {
			add(p.URL, p.Title, p.Snippet)
		}
	}
	return b
}

// searchHits runs the search variants for intent and returns allowed,
// URL-deduplicated hits. Seeds stand in when nothing is found for a seed
// intent.
func (c *Curator) searchHits(ctx context.Context, intent, query string) []provider.SearchResult {
	var hits []provider.SearchResult
	if !c.fetch.IsRateLimited() {
		hits = c.softSearch(ctx, intent, query)
	}
	if len(hits) == 0 && c.catalog.UsesSeeds(intent) {
		for _, p := range c.catalog.Seeds {
			hits = append(hits, provider.SearchResult{URL: p.URL, Title: p.Title})
		}
	}
	if len(hits) > c.cfg.MaxExternal {
		hits = hits[:c.cfg.MaxExternal]
	}
	return hits
}

func (c *Curator) softSearch(ctx context.Context, intent, query string) []provider.SearchResult {
	start := c.now()
	seen := make(map[string]bool)
	var out []provider.SearchResult

	for _, q := range c.Queries(intent, query) {
		if c.now().Sub(start) > c.cfg.SoftSearchBudget {
			c.logger.Debug("search budget spent", "intent", intent, "hits", len(out))
			break
		}
		if ctx.Err() != nil || c.fetch.IsRateLimited() {
			break
		}
		for _, r := range c.fetch.Search(ctx, q, c.cfg.SearchLimit) {
			u, ok := allowlist.Normalize(r.URL)
			if !ok || !allowlist.Allowed(u) || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, provider.SearchResult{URL: u, Title: r.Title})
			if len(out) >= c.cfg.MaxExternal {
				return out
			}
		}
	}
	return out
}

// Queries returns the search variants for intent and query, in the order
// they are tried.
func (c *Curator) Queries(intent, query string) []string {
	hint := c.catalog.Hint(intent)
	site := c.catalog.SiteClause
	query = strings.TrimSpace(query)

	var qs []string
	if query != "" {
		qs = append(qs, join(query, hint, site))
	}
	qs = append(qs, join(hint, site))
	if query != "" && slices.Contains(c.catalog.ScholarshipIntents, intent) {
		qs = append(qs, join(query, c.catalog.ScholarshipTerms, site))
	}
	return qs
}

// StaticBundle builds a bundle from catalog snippets without any fetching.
// Collect returns it during the fast-boot window and in fast mode.
func (c *Curator) StaticBundle(intent string) Bundle {
	pages := c.catalog.Curated
	if c.catalog.UsesSeeds(intent) {
		pages = slices.Concat(pages, c.catalog.Seeds)
	}
	b := Bundle{Items: make([]Item, 0, len(pages))}
	for _, p := range pages {
		b.Items = append(b.Items, Item{
			URL:     p.URL,
			Title:   p.Title,
			Content: fetchcache.Truncate(p.Snippet, c.cfg.MaxContextChars),
		})
	}
	return b
}

func join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
