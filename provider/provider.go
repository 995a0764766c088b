// Package provider defines the search/scrape capability the fetch cache sits
// in front of, and the error classification the cache relies on.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnsupported is returned when a provider cannot perform an operation,
// such as search on a provider that only fetches pages.
var ErrUnsupported = errors.New("operation not supported by provider")

// SearchResult is one search hit. Provider order is preserved.
type SearchResult struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ScrapeOptions tunes a single scrape.
type ScrapeOptions struct {
	// SkipPDFParsing asks the provider to fetch a PDF without extracting its
	// text. Providers bill this as a flat unit.
	SkipPDFParsing bool
}

// Provider fetches pages as markdown and runs web searches.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Scrape returns the page at url rendered as markdown.
	Scrape(ctx context.Context, url string, opts ScrapeOptions) (string, error)

	// Search returns up to limit results for query.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// StatusError is a non-2xx response from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("provider returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// RateLimited reports whether the provider asked us to back off.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Transient reports whether the request is worth retrying.
// 522 and 524 are CDN origin timeouts.
func (e *StatusError) Transient() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		522, 524:
		return true
	}
	return false
}

// IsRateLimited reports whether err carries a 429 from the provider.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.RateLimited()
}

// IsTransient reports whether err carries a retryable provider status.
func IsTransient(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Transient()
}

// StatusCode extracts the provider status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
