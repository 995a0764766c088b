package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInstrumentedTransport_Success(t *testing.T) {
	reader := setupTestMetrics(t)

	body := `{"success":true,"data":{"markdown":"# CCNY"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "firecrawl")}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, body, string(got))
	require.NoError(t, resp.Body.Close())

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "dreamdesk_upstream_fetch_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "provider", "firecrawl"))
	require.True(t, hasAttr(dps[0].Attributes, "outcome", FetchSuccess))

	bytesDps := findCounter(rm, "dreamdesk_upstream_fetch_bytes_total")
	require.Len(t, bytesDps, 1)
	require.Equal(t, int64(len(body)), bytesDps[0].Value)

	histDps := findHistogram(rm, "dreamdesk_upstream_fetch_duration_seconds")
	require.Len(t, histDps, 1)
	require.Equal(t, uint64(1), histDps[0].Count)
}

func TestInstrumentedTransport_StatusOutcomes(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusNotFound, FetchRejected},
		{http.StatusTooManyRequests, FetchRateLimited},
		{http.StatusRequestTimeout, FetchTransient},
		{http.StatusBadGateway, FetchTransient},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			reader := setupTestMetrics(t)

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := &http.Client{Transport: NewInstrumentedTransport(nil, "direct")}
			resp, err := client.Get(srv.URL)
			require.NoError(t, err)
			_, _ = io.ReadAll(resp.Body)
			require.NoError(t, resp.Body.Close())

			dps := findCounter(collectMetrics(t, reader), "dreamdesk_upstream_fetch_total")
			require.Len(t, dps, 1)
			require.True(t, hasAttr(dps[0].Attributes, "outcome", tt.want))
		})
	}
}

func TestInstrumentedTransport_ConnectionError(t *testing.T) {
	reader := setupTestMetrics(t)

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "firecrawl"), Timeout: 100 * time.Millisecond}

	// Use a port that is not listening
	_, err := client.Get("http://127.0.0.1:1")
	require.Error(t, err)

	dps := findCounter(collectMetrics(t, reader), "dreamdesk_upstream_fetch_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", FetchError))
}

func TestInstrumentedTransport_Timeout(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "firecrawl")}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.Error(t, err)

	dps := findCounter(collectMetrics(t, reader), "dreamdesk_upstream_fetch_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", FetchTimeout))
}

func TestInstrumentedTransport_Canceled(t *testing.T) {
	reader := setupTestMetrics(t)

	received := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(received)
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "firecrawl")}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-received
		cancel()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.Error(t, err)

	dps := findCounter(collectMetrics(t, reader), "dreamdesk_upstream_fetch_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", FetchCanceled))
}

func TestInstrumentedTransport_TruncatedBody(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("# partial"))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "direct")}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_, err = io.ReadAll(resp.Body)
	require.Error(t, err)
	require.NoError(t, resp.Body.Close())

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "dreamdesk_upstream_fetch_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", FetchTruncated))

	bytesDps := findCounter(rm, "dreamdesk_upstream_fetch_bytes_total")
	require.Len(t, bytesDps, 1)
	require.EqualValues(t, len("# partial"), bytesDps[0].Value)
}

func TestInstrumentedTransport_BodyCloseIdempotent(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "direct")}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_, _ = io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	// Second close must not double-record
	require.NoError(t, resp.Body.Close())

	dps := findCounter(collectMetrics(t, reader), "dreamdesk_upstream_fetch_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
}
