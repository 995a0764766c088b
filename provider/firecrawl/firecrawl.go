// Package firecrawl is a client for the Firecrawl v1 REST API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dreamdesk/dreamdesk/provider"
	"github.com/dreamdesk/dreamdesk/telemetry"
)

// DefaultBaseURL is the hosted API endpoint.
const DefaultBaseURL = "https://api.firecrawl.dev/v1"

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("firecrawl: API key is required")

const maxErrorBody = 512

// Config configures the client.
type Config struct {
	// BaseURL of the API. Default: DefaultBaseURL.
	BaseURL string

	// APIKey is sent as a bearer token. Required.
	APIKey string

	// ConnectTimeout bounds dialing the API. Default: 5s.
	ConnectTimeout time.Duration

	// ReadTimeout bounds waiting for a response once connected. Default: 60s.
	ReadTimeout time.Duration

	// Transport overrides the base transport (tests).
	Transport http.RoundTripper

	Logger *slog.Logger
}

// Client implements provider.Provider against the Firecrawl API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client. It fails when no API key is configured.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	base := cfg.Transport
	if base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
		t.TLSHandshakeTimeout = cfg.ConnectTimeout
		t.ResponseHeaderTimeout = cfg.ReadTimeout
		base = t
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Transport: telemetry.NewInstrumentedTransport(base, "firecrawl"),
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		logger: cfg.Logger,
	}, nil
}

// Name implements provider.Provider.
func (c *Client) Name() string { return "firecrawl" }

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
	ParsePDF        *bool    `json:"parsePDF,omitempty"`
}

type scrapeResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Markdown string `json:"markdown"`
	Data     *struct {
		Markdown string `json:"markdown"`
	} `json:"data"`
}

// Scrape implements provider.Provider.
func (c *Client) Scrape(ctx context.Context, url string, opts provider.ScrapeOptions) (string, error) {
	req := scrapeRequest{
		URL:             url,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
	}
	if opts.SkipPDFParsing {
		parse := false
		req.ParsePDF = &parse
	}

	var resp scrapeResponse
	if err := c.post(ctx, "/scrape", req, &resp); err != nil {
		return "", fmt.Errorf("scrape %s: %w", url, err)
	}
	if resp.Error != "" && !resp.Success {
		return "", fmt.Errorf("scrape %s: %s", url, resp.Error)
	}
	if resp.Data != nil && resp.Data.Markdown != "" {
		return resp.Data.Markdown, nil
	}
	return resp.Markdown, nil
}

type searchRequest struct {
	Query         string        `json:"query"`
	Limit         int           `json:"limit"`
	ScrapeOptions scrapeFormats `json:"scrapeOptions"`
}

type scrapeFormats struct {
	Formats []string `json:"formats"`
}

type searchResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    []struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"data"`
}

// Search implements provider.Provider.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]provider.SearchResult, error) {
	req := searchRequest{
		Query:         query,
		Limit:         limit,
		ScrapeOptions: scrapeFormats{Formats: []string{"markdown"}},
	}

	var resp searchResponse
	if err := c.post(ctx, "/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	if resp.Error != "" && !resp.Success {
		return nil, fmt.Errorf("search %q: %s", query, resp.Error)
	}

	out := make([]provider.SearchResult, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, provider.SearchResult{URL: d.URL, Title: d.Title})
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, into any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &provider.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

var _ provider.Provider = (*Client)(nil)
