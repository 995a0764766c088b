package firecrawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dreamdesk/dreamdesk/provider"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/v1/", APIKey: "fc-test"})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = New(Config{APIKey: "   "})
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestScrape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/scrape", r.URL.Path)
		require.Equal(t, "Bearer fc-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "https://www.ccny.cuny.edu/financial-aid", body["url"])
		require.Equal(t, []any{"markdown"}, body["formats"])
		_, hasParse := body["parsePDF"]
		require.False(t, hasParse)

		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"# Financial Aid"}}`))
	})

	md, err := c.Scrape(context.Background(), "https://www.ccny.cuny.edu/financial-aid", provider.ScrapeOptions{})
	require.NoError(t, err)
	require.Equal(t, "# Financial Aid", md)
}

func TestScrape_SkipPDFParsing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, false, body["parsePDF"])
		// Older deployments return markdown at the top level.
		_, _ = w.Write([]byte(`{"success":true,"markdown":""}`))
	})

	md, err := c.Scrape(context.Background(), "https://www.hesc.ny.gov/form.pdf", provider.ScrapeOptions{SkipPDFParsing: true})
	require.NoError(t, err)
	require.Empty(t, md)
}

func TestScrape_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"success":false,"error":"Rate limit exceeded"}`))
	})

	_, err := c.Scrape(context.Background(), "https://cuny.edu/", provider.ScrapeOptions{})
	require.Error(t, err)
	require.True(t, provider.IsRateLimited(err))
	require.Contains(t, err.Error(), "Rate limit exceeded")
}

func TestScrape_UnsuccessfulBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"page blocked"}`))
	})

	_, err := c.Scrape(context.Background(), "https://cuny.edu/", provider.ScrapeOptions{})
	require.ErrorContains(t, err, "page blocked")
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/search", r.URL.Path)

		var body searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "ccny scholarships", body.Query)
		require.Equal(t, 6, body.Limit)
		require.Equal(t, []string{"markdown"}, body.ScrapeOptions.Formats)

		_, _ = w.Write([]byte(`{"success":true,"data":[
			{"url":"https://www.ccny.cuny.edu/scholarships","title":"Scholarships"},
			{"url":"","title":"no url"},
			{"url":"https://www.thedream.us/","title":"TheDream.US"}
		]}`))
	})

	results, err := c.Search(context.Background(), "ccny scholarships", 6)
	require.NoError(t, err)
	require.Equal(t, []provider.SearchResult{
		{URL: "https://www.ccny.cuny.edu/scholarships", Title: "Scholarships"},
		{URL: "", Title: "no url"},
		{URL: "https://www.thedream.us/", Title: "TheDream.US"},
	}, results)
}

func TestSearch_Transient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(524)
	})

	_, err := c.Search(context.Background(), "q", 3)
	require.True(t, provider.IsTransient(err))
}

func TestSearch_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := c.Search(context.Background(), "q", 3)
	require.ErrorContains(t, err, "decoding response")
}
