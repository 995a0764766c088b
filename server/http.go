// Package server provides the HTTP surface for the chat assistant.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"github.com/dreamdesk/dreamdesk/agent"
	"github.com/dreamdesk/dreamdesk/allowlist"
	"github.com/dreamdesk/dreamdesk/fetchcache"
	"github.com/dreamdesk/dreamdesk/telemetry"
)

const (
	// maxMessageChars bounds a chat message.
	maxMessageChars = 4000

	// maxBodyBytes bounds a request body.
	maxBodyBytes = 64 << 10

	// maxWarmURLs bounds an explicit warm request.
	maxWarmURLs = 50
)

// Chatter runs chat turns.
type Chatter interface {
	Handle(ctx context.Context, req agent.Request) agent.Response
}

// Cache is the slice of the fetch cache exposed for administration.
type Cache interface {
	Stats() fetchcache.Stats
	WarmCache(ctx context.Context, urls []string) int
}

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// AuthToken protects the admin endpoints when set.
	AuthToken string

	// WarmURLs are fetched into the cache at startup and by POST
	// /cache/warm without a body.
	WarmURLs []string

	// WarmOnStart warms WarmURLs in the background when the server starts.
	WarmOnStart bool

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the chat assistant.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	chat  Chatter
	cache Cache

	warmCtx    context.Context
	warmCancel context.CancelFunc
	warmWG     sync.WaitGroup
}

// New creates a new server with the given configuration.
func New(cfg Config, chat Chatter, cache Cache) (*Server, error) {
	if chat == nil {
		return nil, errors.New("chat handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
		chat:   chat,
		cache:  cache,
	}
	s.warmCtx, s.warmCancel = context.WithCancel(context.Background())

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.loggingMiddleware(gzhttp.GzipHandler(s.authMiddleware(mux)))
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)

	// Admin endpoints (bearer auth when configured)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /cache/warm", s.handleWarm)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "health")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"message"`
	Profile   *agent.Profile `json:"profile,omitempty"`
}

// Validate checks the request shape.
func (c *ChatRequest) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SessionID, validation.RuneLength(0, 128)),
		validation.Field(&c.Message, validation.Required, validation.RuneLength(1, maxMessageChars)),
	)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "chat")

	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := s.chat.Handle(r.Context(), agent.Request{
		SessionID: req.SessionID,
		Message:   req.Message,
		Profile:   req.Profile,
	})
	telemetry.SetSessionID(r, resp.SessionID)
	telemetry.SetOutcome(r, resp.Outcome)

	writeJSON(w, http.StatusOK, resp)
}

// handleStats handles cache statistics requests.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "stats")
	if s.cache == nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": "cache not enabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// WarmRequest is the optional body of POST /cache/warm.
type WarmRequest struct {
	URLs []string `json:"urls"`
}

// Validate checks every URL is on an allowed host.
func (wr *WarmRequest) Validate() error {
	return validation.ValidateStruct(wr,
		validation.Field(&wr.URLs,
			validation.Length(0, maxWarmURLs),
			validation.Each(validation.Required, validation.By(allowedURL)),
		),
	)
}

func allowedURL(value any) error {
	s, _ := value.(string)
	if !allowlist.Allowed(s) {
		return errors.New("host is not allowed")
	}
	return nil
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cache_warm")
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache not enabled")
		return
	}

	var req WarmRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	urls := req.URLs
	if len(urls) == 0 {
		urls = s.config.WarmURLs
	}
	warmed := s.cache.WarmCache(r.Context(), urls)
	writeJSON(w, http.StatusOK, map[string]int{"requested": len(urls), "warmed": warmed})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set endpoint, outcome, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			// Request identification
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			// Response details
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			// Timing
			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),

			// Client info
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"http_version", fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		}

		// Add handler-set tags
		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.SessionID != "" {
			attrs = append(attrs, "session_id", tags.SessionID)
		}
		if tags.Outcome != telemetry.OutcomeNone {
			attrs = append(attrs, "outcome", string(tags.Outcome))
		}

		s.logger.Info("http request", attrs...)

		// Record OTel metrics
		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start warms the cache in the background when configured, then serves.
func (s *Server) Start() error {
	if s.config.WarmOnStart && s.cache != nil && len(s.config.WarmURLs) > 0 {
		s.warmWG.Add(1)
		go func() {
			defer s.warmWG.Done()
			n := s.cache.WarmCache(s.warmCtx, s.config.WarmURLs)
			s.logger.Info("cache warmed", "urls", len(s.config.WarmURLs), "warmed", n)
		}()
	}

	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.warmCancel()
	err := s.httpServer.Shutdown(ctx)
	s.warmWG.Wait()
	return err
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
