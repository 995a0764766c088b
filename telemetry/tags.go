// Package telemetry provides request tagging for structured logging and
// OpenTelemetry metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	requestTagsKey contextKey = "request_tags"
)

// CacheResult represents the outcome of a fetch cache lookup.
type CacheResult string

const (
	CacheHitMemory CacheResult = "hit_memory"
	CacheHitDisk   CacheResult = "hit_disk"
	CacheStale     CacheResult = "stale"
	CacheMiss      CacheResult = "miss"
	CacheSkipped   CacheResult = "pdf_skipped"
)

// TurnOutcome is how a chat turn was resolved.
type TurnOutcome string

const (
	OutcomeNone     TurnOutcome = "none"
	OutcomeAnswered TurnOutcome = "answered"
	OutcomeAsked    TurnOutcome = "asked"
	OutcomeClosing  TurnOutcome = "closing"
	OutcomeFallback TurnOutcome = "fallback"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Endpoint  string
	SessionID string
	Outcome   TurnOutcome
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{Outcome: OutcomeNone}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	return TagsFromContext(r.Context())
}

// TagsFromContext retrieves request tags from a context, nil when absent.
func TagsFromContext(ctx context.Context) *RequestTags {
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetOutcome sets the turn outcome for logging.
func SetOutcome(r *http.Request, outcome TurnOutcome) {
	if tags := GetTags(r); tags != nil {
		tags.Outcome = outcome
	}
}

// SetEndpoint sets the endpoint name for logging.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// SetSessionID records the chat session on the request for logging.
func SetSessionID(r *http.Request, id string) {
	if tags := GetTags(r); tags != nil {
		tags.SessionID = id
	}
}
