package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const (
	meterName = "github.com/dreamdesk/dreamdesk"
)

// MetricsConfig selects where metrics go. With neither OTLP nor Prometheus
// enabled the instruments still record, they are just never exported.
type MetricsConfig struct {
	ServiceName    string // default "dreamdesk"
	ServiceVersion string

	// OTLPEndpoint is a host:port for plaintext gRPC export. Empty disables
	// OTLP.
	OTLPEndpoint string

	// EnablePrometheus serves the pull endpoint through PrometheusHandler.
	EnablePrometheus bool

	// FlushInterval applies to OTLP pushes. Default: 10s.
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal           metric.Int64Counter
	responseBytesTotal      metric.Int64Counter
	requestDuration         metric.Float64Histogram
	requestsByEndpointTotal metric.Int64Counter

	upstreamFetchDuration   metric.Float64Histogram
	upstreamFetchTotal      metric.Int64Counter
	upstreamFetchBytesTotal metric.Int64Counter

	backendRequestDuration metric.Float64Histogram
	backendRequestsTotal   metric.Int64Counter
	backendBytesTotal      metric.Int64Counter

	cacheLookupsTotal  metric.Int64Counter
	cooldownTripsTotal metric.Int64Counter
	memEvictionsTotal  metric.Int64Counter
	fetchRetriesTotal  metric.Int64Counter

	llmCallsTotal   metric.Int64Counter
	llmCallDuration metric.Float64Histogram

	turnsTotal   metric.Int64Counter
	turnDuration metric.Float64Histogram

	reaperDeletedTotal metric.Int64Counter
	reaperDuration     metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics installs the global meter provider on first call and returns
// its shutdown func. Later calls return the first call's result.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})
	if initErr != nil {
		return nil, initErr
	}
	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dreamdesk"
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return fmt.Errorf("building metrics resource: %w", err)
	}

	readers, promHandler, err := buildReaders(ctx, cfg)
	if err != nil {
		return err
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return fmt.Errorf("creating instruments: %w", err)
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m
	return nil
}

// buildReaders returns one reader per enabled exporter, or a manual reader
// nobody collects from when none is enabled.
func buildReaders(ctx context.Context, cfg MetricsConfig) ([]sdkmetric.Reader, http.Handler, error) {
	var (
		readers     []sdkmetric.Reader
		promHandler http.Handler
	)
	if cfg.OTLPEndpoint != "" {
		exp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("creating OTLP exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.FlushInterval)))
	}
	if cfg.EnablePrometheus {
		exp, err := promexporter.New()
		if err != nil {
			return nil, nil, fmt.Errorf("creating prometheus exporter: %w", err)
		}
		readers = append(readers, exp)
		promHandler = promhttp.Handler()
	}
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewManualReader())
	}
	return readers, promHandler, nil
}

// instruments collects the first error while creating instruments so the
// constructor below reads as a flat list.
type instruments struct {
	meter metric.Meter
	err   error
}

func (in *instruments) counter(name, desc, unit string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil && in.err == nil {
		in.err = err
	}
	return c
}

func (in *instruments) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit(unit)}
	if len(bounds) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	if err != nil && in.err == nil {
		in.err = err
	}
	return h
}

var (
	latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60}
	storageBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

func newMetrics(meter metric.Meter) (*Metrics, error) {
	in := &instruments{meter: meter}

	m := &Metrics{
		requestsTotal:           in.counter("dreamdesk_http_requests_total", "Total number of HTTP requests", "{request}"),
		responseBytesTotal:      in.counter("dreamdesk_http_response_bytes_total", "Total bytes sent in HTTP responses", "By"),
		requestDuration:         in.histogram("dreamdesk_http_request_duration_seconds", "HTTP request duration in seconds", "s", latencyBuckets...),
		requestsByEndpointTotal: in.counter("dreamdesk_http_requests_by_endpoint_total", "Total number of HTTP requests by endpoint (detail metric)", "{request}"),

		upstreamFetchDuration:   in.histogram("dreamdesk_upstream_fetch_duration_seconds", "Duration of provider fetch requests", "s", latencyBuckets...),
		upstreamFetchTotal:      in.counter("dreamdesk_upstream_fetch_total", "Total number of provider fetch requests", "{request}"),
		upstreamFetchBytesTotal: in.counter("dreamdesk_upstream_fetch_bytes_total", "Total bytes fetched from the provider", "By"),

		backendRequestDuration: in.histogram("dreamdesk_backend_request_duration_seconds", "Duration of disk cache operations", "s", storageBuckets...),
		backendRequestsTotal:   in.counter("dreamdesk_backend_requests_total", "Total number of disk cache operations", "{request}"),
		backendBytesTotal:      in.counter("dreamdesk_backend_bytes_total", "Total bytes written to the disk cache", "By"),

		cacheLookupsTotal:  in.counter("dreamdesk_cache_lookups_total", "Fetch cache lookups by kind and result", "{lookup}"),
		cooldownTripsTotal: in.counter("dreamdesk_cooldown_trips_total", "Times the provider rate-limit cooldown was tripped", "{trip}"),
		memEvictionsTotal:  in.counter("dreamdesk_memory_evictions_total", "Fetch cache entries evicted from memory", "{entry}"),
		fetchRetriesTotal:  in.counter("dreamdesk_fetch_retries_total", "Provider fetch retries on transient errors", "{retry}"),

		llmCallsTotal:   in.counter("dreamdesk_llm_calls_total", "LLM calls by purpose and outcome", "{call}"),
		llmCallDuration: in.histogram("dreamdesk_llm_call_duration_seconds", "LLM call duration in seconds", "s", latencyBuckets...),

		turnsTotal:   in.counter("dreamdesk_turns_total", "Chat turns by outcome", "{turn}"),
		turnDuration: in.histogram("dreamdesk_turn_duration_seconds", "Chat turn duration in seconds", "s", latencyBuckets...),

		reaperDeletedTotal: in.counter("dreamdesk_reaper_deleted_total", "Total entries deleted by the disk reaper", "{entry}"),
		reaperDuration:     in.histogram("dreamdesk_reaper_duration_seconds", "Duration of reaper cycles", "s", 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	}
	if in.err != nil {
		return nil, in.err
	}
	return m, nil
}

// shutdownMetrics flushes and drops the global instruments.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP is called by the logging middleware once a request completes.
// Endpoint and turn outcome come from the request tags handlers set.
func RecordHTTP(ctx context.Context, r *http.Request, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	tags := GetTags(r)

	outcome := string(OutcomeNone)
	endpoint := ""
	if tags != nil {
		if tags.Outcome != "" {
			outcome = string(tags.Outcome)
		}
		endpoint = tags.Endpoint
	}

	statusClass := StatusClass(status)

	sharedAttrs := []attribute.KeyValue{
		attribute.String("status_class", statusClass),
		attribute.String("outcome", outcome),
	}
	globalMetrics.requestsTotal.Add(ctx, 1, metric.WithAttributes(sharedAttrs...))
	globalMetrics.responseBytesTotal.Add(ctx, bytesSent, metric.WithAttributes(sharedAttrs...))
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(sharedAttrs...))

	if endpoint != "" {
		detailAttrs := []attribute.KeyValue{
			attribute.String("endpoint", endpoint),
			attribute.String("status_class", statusClass),
			attribute.String("outcome", outcome),
		}
		globalMetrics.requestsByEndpointTotal.Add(ctx, 1, metric.WithAttributes(detailAttrs...))
	}
}

// RecordBackendOp records disk cache operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.backendRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordUpstreamFetch records a provider fetch request.
func RecordUpstreamFetch(ctx context.Context, provider string, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	}
	globalMetrics.upstreamFetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	globalMetrics.upstreamFetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if bytesRead > 0 {
		globalMetrics.upstreamFetchBytesTotal.Add(ctx, bytesRead, metric.WithAttributes(attrs...))
	}
}

// RecordCacheLookup records the result of a fetch cache lookup.
// kind is "scrape" or "search".
func RecordCacheLookup(ctx context.Context, kind string, result CacheResult) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", string(result)),
	))
}

// RecordCooldownTrip records the provider signalling a rate limit.
func RecordCooldownTrip(ctx context.Context, kind string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cooldownTripsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordMemoryEviction records an entry leaving the in-memory fetch cache.
func RecordMemoryEviction(ctx context.Context, kind string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.memEvictionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFetchRetry records a retry after a transient provider error.
func RecordFetchRetry(ctx context.Context, kind string, status int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.fetchRetriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status_class", StatusClass(status)),
	))
}

// RecordLLMCall records one LLM completion call.
// purpose is "classify", "answer" or "cards".
func RecordLLMCall(ctx context.Context, provider, purpose, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("purpose", purpose),
		attribute.String("outcome", outcome),
	)
	globalMetrics.llmCallsTotal.Add(ctx, 1, attrs)
	globalMetrics.llmCallDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTurn records one chat turn and how it was resolved.
func RecordTurn(ctx context.Context, outcome TurnOutcome, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	globalMetrics.turnsTotal.Add(ctx, 1, attrs)
	globalMetrics.turnDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordReaperCycle records one reaper cycle's deleted count and duration.
func RecordReaperCycle(ctx context.Context, reaper string, deleted int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reaper", reaper))
	globalMetrics.reaperDeletedTotal.Add(ctx, int64(deleted), attrs)
	globalMetrics.reaperDuration.Record(ctx, duration.Seconds(), attrs)
}

// PrometheusHandler serves the scrape endpoint, or 404 until Prometheus
// export is enabled, so the route can be registered before InitMetrics.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass buckets status as "2xx" through "5xx", or "unknown".
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status < 200:
		return "unknown"
	default:
		return strconv.Itoa(status/100) + "xx"
	}
}
