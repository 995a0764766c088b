// Package session stores the little conversation state a chat needs between
// turns: a pending clarifying question, the question it deferred, and the
// residency fact once known.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// PendingResidency marks a session waiting for the residency answer.
const PendingResidency = "residency"

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 24 * time.Hour

// Session is the per-conversation state.
type Session struct {
	ID          string    `json:"id"`
	PendingKind string    `json:"pending_kind,omitempty"`
	OrigQuery   string    `json:"orig_query,omitempty"`
	HasInState  *bool     `json:"has_instate,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Session) clone() *Session {
	c := *s
	if s.HasInState != nil {
		v := *s.HasInState
		c.HasInState = &v
	}
	return &c
}

// Store persists sessions. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Save creates or replaces the session and refreshes its idle timer.
	Save(ctx context.Context, s *Session) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	Close() error
}
