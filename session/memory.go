package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// pruneEvery is how many saves pass between sweeps of idle sessions.
const pruneEvery = 256

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	saves    int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates a MemoryStore dropping sessions idle for longer
// than ttl. A non-positive ttl selects DefaultTTL.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.now().Sub(s.UpdatedAt) > m.ttl {
		delete(m.sessions, id)
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := s.clone()
	c.UpdatedAt = m.now()
	m.sessions[c.ID] = c

	m.saves++
	if m.saves%pruneEvery == 0 {
		m.pruneLocked()
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Prune drops idle sessions and returns how many were removed.
func (m *MemoryStore) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked()
}

func (m *MemoryStore) pruneLocked() int {
	now := m.now()
	n := 0
	for id, s := range m.sessions {
		if now.Sub(s.UpdatedAt) > m.ttl {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions, including idle ones not yet
// pruned.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) Close() error { return nil }
