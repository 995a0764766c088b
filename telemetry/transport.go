package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

// Upstream fetch outcomes. They follow how the fetch cache treats each
// response: transient statuses are retried, rate limiting trips the
// cooldown, anything else 4xx is final.
const (
	FetchSuccess     = "success"
	FetchTransient   = "transient"
	FetchRateLimited = "rate_limited"
	FetchRejected    = "rejected"
	FetchTimeout     = "timeout"
	FetchCanceled    = "canceled"
	FetchTruncated   = "truncated"
	FetchError       = "error"
)

// InstrumentedTransport records one RecordUpstreamFetch sample per request
// sent to a search/scrape provider. Successful responses are recorded when
// the body is closed, with the bytes actually read.
type InstrumentedTransport struct {
	base     http.RoundTripper
	provider string
}

// NewInstrumentedTransport wraps base, or http.DefaultTransport when nil.
func NewInstrumentedTransport(base http.RoundTripper, provider string) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base, provider: provider}
}

func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	start := time.Now()

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		RecordUpstreamFetch(ctx, t.provider, time.Since(start), 0, transportOutcome(ctx, err))
		return nil, err
	}

	resp.Body = &instrumentedBody{
		ReadCloser: resp.Body,
		ctx:        ctx,
		provider:   t.provider,
		start:      start,
		outcome:    StatusOutcome(resp.StatusCode),
	}
	return resp, nil
}

// StatusOutcome maps a provider response status onto a fetch outcome.
func StatusOutcome(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return FetchRateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		return FetchTransient
	case status >= 400:
		return FetchRejected
	default:
		return FetchSuccess
	}
}

func transportOutcome(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return FetchTimeout
	case ctx.Err() != nil:
		return FetchCanceled
	default:
		return FetchError
	}
}

// instrumentedBody counts bytes read and records the fetch on the first
// Close. A read error other than EOF marks the fetch truncated.
type instrumentedBody struct {
	io.ReadCloser
	ctx      context.Context
	provider string
	start    time.Time
	bytes    int64
	outcome  string
	once     sync.Once
}

func (b *instrumentedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.bytes += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && b.outcome == FetchSuccess {
		b.outcome = FetchTruncated
	}
	return n, err
}

func (b *instrumentedBody) Close() error {
	b.once.Do(func() {
		RecordUpstreamFetch(b.ctx, b.provider, time.Since(b.start), b.bytes, b.outcome)
	})
	return b.ReadCloser.Close()
}
