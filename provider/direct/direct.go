// Package direct fetches pages itself and converts them to markdown. It
// needs no credentials and cannot search, so it is the fallback when no
// hosted provider is configured.
package direct

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/dreamdesk/dreamdesk/provider"
	"github.com/dreamdesk/dreamdesk/telemetry"
)

const (
	maxPageSize  = 4 << 20
	maxErrorBody = 512
	userAgent    = "dreamdesk/1.0 (+https://github.com/dreamdesk/dreamdesk)"
)

// mainContentSelectors are tried in order; the first match is converted.
var mainContentSelectors = []string{"main", "article", "[role=main]", "#content", ".content", "body"}

// boilerplate is removed before conversion.
const boilerplate = "script, style, noscript, iframe, nav, header, footer, form, svg"

// Config configures the fetcher.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Transport overrides the base transport (tests).
	Transport http.RoundTripper

	Logger *slog.Logger
}

// Fetcher implements provider.Provider by fetching pages directly.
type Fetcher struct {
	http   *http.Client
	conv   *converter.Converter
	logger *slog.Logger
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rt := cfg.Transport
	if rt == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
		t.TLSHandshakeTimeout = cfg.ConnectTimeout
		t.ResponseHeaderTimeout = cfg.ReadTimeout
		rt = t
	}

	return &Fetcher{
		http: &http.Client{
			Transport: telemetry.NewInstrumentedTransport(rt, "direct"),
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: cfg.Logger,
	}
}

// Name implements provider.Provider.
func (f *Fetcher) Name() string { return "direct" }

// Search is not available without a hosted search provider.
func (f *Fetcher) Search(ctx context.Context, query string, limit int) ([]provider.SearchResult, error) {
	return nil, provider.ErrUnsupported
}

// Scrape fetches url and converts its main content to markdown.
// PDFs cannot be parsed locally: an unparsed fetch returns empty content and
// a parsing fetch returns ErrUnsupported.
func (f *Fetcher) Scrape(ctx context.Context, url string, opts provider.ScrapeOptions) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &provider.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/pdf" {
		if opts.SkipPDFParsing {
			return "", nil
		}
		return "", fmt.Errorf("parsing pdf %s: %w", url, provider.ErrUnsupported)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", url, err)
	}

	md, err := f.convert(doc)
	if err != nil {
		return "", fmt.Errorf("converting %s: %w", url, err)
	}
	return md, nil
}

func (f *Fetcher) convert(doc *goquery.Document) (string, error) {
	doc.Find(boilerplate).Remove()

	var node *html.Node
	for _, sel := range mainContentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			node = s.Get(0)
			break
		}
	}
	if node == nil {
		node = doc.Get(0)
	}

	out, err := f.conv.ConvertNode(node)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

var _ provider.Provider = (*Fetcher)(nil)
