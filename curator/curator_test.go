package curator

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dreamdesk/dreamdesk/fetchcache"
	"github.com/dreamdesk/dreamdesk/provider"
)

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	results  map[string][]provider.SearchResult
	limited  bool
	scraped  []string
	searched []string

	// onSearch runs after each search, e.g. to advance a clock.
	onSearch func()
}

func (f *fakeFetcher) Scrape(ctx context.Context, url string, _ ...fetchcache.ScrapeOption) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scraped = append(f.scraped, url)
	md, ok := f.pages[url]
	return md, ok
}

func (f *fakeFetcher) Search(ctx context.Context, query string, limit int, _ ...fetchcache.SearchOption) []provider.SearchResult {
	f.mu.Lock()
	f.searched = append(f.searched, query)
	var out []provider.SearchResult
	for prefix, rs := range f.results {
		if strings.HasPrefix(query, prefix) {
			out = append(out, rs...)
		}
	}
	hook := f.onSearch
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out
}

func (f *fakeFetcher) IsRateLimited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limited
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func curatedPages() map[string]string {
	out := make(map[string]string)
	for _, p := range DefaultCatalog().Curated {
		out[p.URL] = "page " + p.URL
	}
	return out
}

func urls(b Bundle) []string {
	out := make([]string, 0, len(b.Items))
	for _, it := range b.Items {
		out = append(out, it.URL)
	}
	return out
}

func TestDefaultCatalog(t *testing.T) {
	cat := DefaultCatalog()
	require.Len(t, cat.Curated, 5)
	require.Len(t, cat.Seeds, 3)
	require.True(t, cat.UsesSeeds("residency"))
	require.False(t, cat.UsesSeeds("housing"))
	require.Equal(t, "housing residence life ccny", cat.Hint("housing"))
	require.Equal(t, cat.DefaultHint, cat.Hint("unknown"))
	require.Len(t, cat.URLs(), 8)
}

func TestParseCatalog_RejectsDisallowedHost(t *testing.T) {
	_, err := ParseCatalog([]byte(`
curated:
  - url: https://www.jjay.cuny.edu/
`))
	require.ErrorContains(t, err, "not on an allowed host")
	require.ErrorContains(t, err, "www.ccny.cuny.edu")

	_, err = ParseCatalog([]byte(`curated: []`))
	require.Error(t, err)
}

func TestCollect_CuratedAndFilteredHits(t *testing.T) {
	pages := curatedPages()
	pages["https://www.ccny.cuny.edu/financial-aid/tap"] = "TAP details"
	pages["https://www.cuny.edu/dream"] = "CUNY dream"

	f := &fakeFetcher{
		pages: pages,
		results: map[string][]provider.SearchResult{
			"how do I get TAP": {
				{URL: "https://www.jjay.cuny.edu/tap", Title: "other campus"},
				{URL: "www.ccny.cuny.edu/financial-aid/tap", Title: "TAP"},
				{URL: "https://example.com/tap", Title: "spam"},
				{URL: "https://www.ccny.cuny.edu/immigrantstudentcenter", Title: "hub"},
			},
			"financial aid": {
				{URL: "https://www.cuny.edu/dream", Title: "CUNY"},
				{URL: "https://www.ccny.cuny.edu/financial-aid/tap", Title: "TAP again"},
			},
		},
	}
	c := New(f, nil, Config{}, WithLogger(testLogger()))

	b := c.Collect(context.Background(), "housing", "how do I get TAP")

	require.Equal(t, []string{
		"https://www.ccny.cuny.edu/immigrantstudentcenter",
		"https://www.ccny.cuny.edu/immigrantstudentcenter/scholarships",
		"https://www.ccny.cuny.edu/immigrantstudentcenter/ccny-dream-team",
		"https://www.ccny.cuny.edu/immigrantstudentcenter/qualifying-state-tuition",
		"https://www.ccny.cuny.edu/immigrantstudentcenter/financial-aid",
		"https://www.ccny.cuny.edu/financial-aid/tap",
	}, urls(b))

	require.Equal(t, "TAP", b.Items[5].Title)
	require.NotContains(t, f.scraped, "https://www.jjay.cuny.edu/tap")
	require.NotContains(t, f.scraped, "https://example.com/tap")
}

func TestCollect_SeedsForSeedIntents(t *testing.T) {
	pages := curatedPages()
	for _, p := range DefaultCatalog().Seeds {
		pages[p.URL] = "seed " + p.URL
	}
	f := &fakeFetcher{pages: pages}
	c := New(f, nil, Config{}, WithLogger(testLogger()))

	b := c.Collect(context.Background(), "scholarships", "DACA scholarships")
	require.Len(t, b.Items, 8)
	require.Len(t, b.Sources(), 8)

	// Three variants for scholarship intents.
	require.Len(t, f.searched, 3)
	require.Contains(t, f.searched[2], "ccny scholarships")
}

func TestCollect_RateLimitedSkipsSearch(t *testing.T) {
	f := &fakeFetcher{pages: curatedPages(), limited: true}
	c := New(f, nil, Config{}, WithLogger(testLogger()))

	b := c.Collect(context.Background(), "residency", "undocumented tuition")
	require.Empty(t, f.searched)
	require.Len(t, b.Items, 5)
}

func TestCollect_SnippetFallback(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{}}
	c := New(f, nil, Config{}, WithLogger(testLogger()))

	b := c.Collect(context.Background(), "general", "hello")
	require.Len(t, b.Items, 5)
	for _, it := range b.Items {
		require.NotEmpty(t, it.Content)
	}
}

func TestCollect_TruncatesAndCapsScrapes(t *testing.T) {
	pages := map[string]string{}
	var hits []provider.SearchResult
	for _, p := range []string{"a", "b", "c", "d"} {
		u := "https://www.ccny.cuny.edu/" + p
		pages[u] = strings.Repeat(p, 100)
		hits = append(hits, provider.SearchResult{URL: u})
	}
	f := &fakeFetcher{pages: pages, results: map[string][]provider.SearchResult{"q": hits}}
	c := New(f, nil, Config{MaxScrapes: 2, MaxContextChars: 10}, WithLogger(testLogger()))

	b := c.Collect(context.Background(), "general", "q")
	require.Equal(t, []string{"https://www.ccny.cuny.edu/a", "https://www.ccny.cuny.edu/b"}, urls(b))
	require.Equal(t, strings.Repeat("a", 10), b.Items[0].Content)
}

func TestSoftSearch_StopsWhenBudgetSpent(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	f := &fakeFetcher{pages: curatedPages()}
	f.onSearch = func() {
		mu.Lock()
		now = now.Add(10 * time.Second)
		mu.Unlock()
	}
	c := New(f, nil, Config{SoftSearchBudget: 8 * time.Second}, WithLogger(testLogger()), WithClock(clock))

	_ = c.Collect(context.Background(), "scholarships", "money")
	require.Len(t, f.searched, 1)
}

func TestQueries(t *testing.T) {
	c := New(&fakeFetcher{}, nil, Config{}, WithLogger(testLogger()))
	cat := c.Catalog()

	qs := c.Queries("housing", "  dorms? ")
	require.Equal(t, []string{
		"dorms? " + cat.Hint("housing") + " " + cat.SiteClause,
		cat.Hint("housing") + " " + cat.SiteClause,
	}, qs)

	require.Len(t, c.Queries("general", ""), 1)
}

func TestBundle(t *testing.T) {
	b := Bundle{Items: []Item{
		{URL: "https://a", Content: "one"},
		{URL: "https://b", Title: "B", Content: "two"},
		{URL: "https://a", Content: "three"},
	}}
	require.Equal(t, "URL: https://a\n\none\n\n---\n\nURL: https://b\n\ntwo\n\n---\n\nURL: https://a\n\nthree", b.Merged())
	require.Equal(t, []Source{{URL: "https://a"}, {URL: "https://b", Title: "B"}}, b.Sources())
}

func TestStaticBundle(t *testing.T) {
	c := New(&fakeFetcher{}, nil, Config{}, WithLogger(testLogger()))
	require.Len(t, c.StaticBundle("general").Items, 5)
	require.Len(t, c.StaticBundle("financial_aid").Items, 8)
}

func TestCollect_FastBootWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	f := &fakeFetcher{pages: map[string]string{}}
	c := New(f, nil, Config{FastBootWindow: 10 * time.Second}, WithLogger(testLogger()), WithClock(clock))

	b := c.Collect(context.Background(), "scholarships", "dream act")
	require.Equal(t, c.StaticBundle("scholarships"), b)
	require.Empty(t, f.scraped)
	require.Empty(t, f.searched)

	now = now.Add(10 * time.Second)
	c.Collect(context.Background(), "scholarships", "dream act")
	require.NotEmpty(t, f.scraped)
	require.NotEmpty(t, f.searched)
}

func TestCollect_FastMode(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, nil, Config{FastMode: true}, WithLogger(testLogger()))

	b := c.Collect(context.Background(), "general", "housing")
	require.Len(t, b.Items, 5)
	require.Empty(t, f.scraped)
	require.Empty(t, f.searched)
}
