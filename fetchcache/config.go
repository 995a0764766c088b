package fetchcache

import (
	"fmt"
	"strings"
	"time"
)

// PDFPolicy controls how URLs that serve PDFs are scraped.
type PDFPolicy string

const (
	// PDFSkip returns a marker without calling the provider.
	PDFSkip PDFPolicy = "skip"
	// PDFMinimal fetches the document without text extraction.
	PDFMinimal PDFPolicy = "minimal"
	// PDFFull scrapes PDFs like any other page.
	PDFFull PDFPolicy = "full"
)

// ParsePDFPolicy parses a policy name. The empty string yields PDFMinimal.
func ParsePDFPolicy(s string) (PDFPolicy, error) {
	switch p := PDFPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PDFMinimal, nil
	case PDFSkip, PDFMinimal, PDFFull:
		return p, nil
	default:
		return "", fmt.Errorf("unknown pdf policy %q (want skip, minimal or full)", s)
	}
}

// Config holds the cache tunables.
type Config struct {
	// ScrapeTTL is how long a scraped page stays fresh. Default 24h.
	ScrapeTTL time.Duration

	// SearchTTL is how long a search result list stays fresh. Default 6h.
	SearchTTL time.Duration

	// Cooldown is how long every provider call is suppressed after a 429.
	// Default 45s.
	Cooldown time.Duration

	// PDFPolicy defaults to PDFMinimal.
	PDFPolicy PDFPolicy

	// MaxAttempts per provider call on transient errors. Default 3.
	MaxAttempts int

	// RetryBackoff is the linear backoff step: attempt n waits n*RetryBackoff.
	// Zero selects the default of 1s; a negative step retries without
	// waiting.
	RetryBackoff time.Duration

	// MaxContentChars caps a scraped document, in characters. Default 20000.
	MaxContentChars int

	// MaxMemoryEntries bounds each in-memory tier. Evicted entries remain on
	// disk when a disk tier is configured. Default 4096; negative disables
	// the bound.
	MaxMemoryEntries int
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		ScrapeTTL:        24 * time.Hour,
		SearchTTL:        6 * time.Hour,
		Cooldown:         45 * time.Second,
		PDFPolicy:        PDFMinimal,
		MaxAttempts:      3,
		RetryBackoff:     time.Second,
		MaxContentChars:  20000,
		MaxMemoryEntries: 4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ScrapeTTL <= 0 {
		c.ScrapeTTL = d.ScrapeTTL
	}
	if c.SearchTTL <= 0 {
		c.SearchTTL = d.SearchTTL
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.PDFPolicy == "" {
		c.PDFPolicy = d.PDFPolicy
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	switch {
	case c.RetryBackoff == 0:
		c.RetryBackoff = d.RetryBackoff
	case c.RetryBackoff < 0:
		c.RetryBackoff = 0
	}
	if c.MaxContentChars <= 0 {
		c.MaxContentChars = d.MaxContentChars
	}
	if c.MaxMemoryEntries == 0 {
		c.MaxMemoryEntries = d.MaxMemoryEntries
	}
	return c
}
