package provider

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"time"
)

// Prober decides whether a URL serves a PDF without downloading it.
type Prober interface {
	IsPDF(ctx context.Context, url string) (bool, error)
}

// HeadProber issues a HEAD request and inspects Content-Type.
type HeadProber struct {
	client  *http.Client
	timeout time.Duration
}

// NewHeadProber creates a prober. Each probe is bounded by timeout.
// If client is nil, http.DefaultClient is used.
func NewHeadProber(client *http.Client, timeout time.Duration) *HeadProber {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HeadProber{client: client, timeout: timeout}
}

// IsPDF reports whether url answers HEAD with an application/pdf body.
func (p *HeadProber) IsPDF(ctx context.Context, url string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("building probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", url, err)
	}
	_ = resp.Body.Close()

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false, nil
	}
	return mediaType == "application/pdf", nil
}
