// Package diskcache persists fetch cache entries as one JSON document per key
// so cached pages and search results survive restarts.
//
// Layout under the backend root:
//
//	scrape/<key>.json  {"expires": 1718000000.25, "payload": "<markdown>" | null}
//	search/<key>.json  {"expires": 1718000000.25, "payload": [{"url": "...", "title": "..."}]}
package diskcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/dreamdesk/dreamdesk"
	"github.com/dreamdesk/dreamdesk/backend"
)

// Kind names the operation an entry belongs to. It is also the directory
// the entry lives in.
type Kind string

const (
	Scrape Kind = "scrape"
	Search Kind = "search"
)

var (
	// ErrMiss is returned when no entry exists for a key.
	ErrMiss = errors.New("disk cache miss")

	// ErrExpired is returned by Get alongside the stale entry once it has
	// been removed from disk.
	ErrExpired = errors.New("disk cache entry expired")
)

// maxDocumentSize bounds a single cache document read from disk.
const maxDocumentSize = 8 << 20

// Entry is a decoded cache document.
type Entry struct {
	Expires time.Time
	Payload json.RawMessage
}

// IsNull reports whether the payload is absent or JSON null.
func (e Entry) IsNull() bool {
	p := bytes.TrimSpace(e.Payload)
	return len(p) == 0 || bytes.Equal(p, []byte("null"))
}

// Decode unmarshals the payload into v.
func (e Entry) Decode(v any) error {
	if e.IsNull() {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

type document struct {
	Expires float64         `json:"expires"`
	Payload json.RawMessage `json:"payload"`
}

// Store reads and writes cache documents through a backend.
type Store struct {
	backend backend.Backend
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store on top of b.
func New(b backend.Backend, opts ...Option) *Store {
	s := &Store{
		backend: b,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backend key for an entry.
func Path(kind Kind, key dreamdesk.Hash) string {
	return string(kind) + "/" + key.String() + ".json"
}

// ParsePath is the inverse of Path. It reports false for anything that is
// not a cache document, such as files dropped into the cache directory by
// hand.
func ParsePath(path string) (Kind, dreamdesk.Hash, bool) {
	dir, file, ok := strings.Cut(path, "/")
	if !ok || (Kind(dir) != Scrape && Kind(dir) != Search) {
		return "", dreamdesk.Hash{}, false
	}
	name, ok := strings.CutSuffix(file, ".json")
	if !ok {
		return "", dreamdesk.Hash{}, false
	}
	key, err := dreamdesk.ParseHash(name)
	if err != nil {
		return "", dreamdesk.Hash{}, false
	}
	return Kind(dir), key, true
}

// Get returns the entry for key if it is still fresh at now.
// An expired entry is deleted (best effort) and returned together with
// ErrExpired so the caller can still use it as a stale value.
func (s *Store) Get(ctx context.Context, kind Kind, key dreamdesk.Hash, now time.Time) (Entry, error) {
	entry, err := s.read(ctx, Path(kind, key))
	if err != nil {
		return Entry{}, err
	}
	if now.Before(entry.Expires) {
		return entry, nil
	}
	if err := s.backend.Delete(ctx, Path(kind, key)); err != nil {
		s.logger.Debug("removing expired entry", "kind", kind, "key", key.ShortString(), "error", err)
	}
	return entry, ErrExpired
}

// Peek returns the entry for key regardless of its expiry. It never deletes.
func (s *Store) Peek(ctx context.Context, kind Kind, key dreamdesk.Hash) (Entry, error) {
	return s.read(ctx, Path(kind, key))
}

// Put writes payload for key with the given expiry.
func (s *Store) Put(ctx context.Context, kind Kind, key dreamdesk.Hash, expires time.Time, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	doc, err := json.Marshal(document{Expires: toUnixSeconds(expires), Payload: raw})
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	if err := s.backend.Write(ctx, Path(kind, key), bytes.NewReader(doc)); err != nil {
		return fmt.Errorf("writing %s entry: %w", kind, err)
	}
	return nil
}

// SweepResult summarises one Sweep pass.
type SweepResult struct {
	Scanned int
	Deleted int
	Errors  int
}

// Sweep deletes every entry that expired before cutoff. Documents that can
// no longer be decoded are deleted as well.
func (s *Store) Sweep(ctx context.Context, cutoff time.Time) (SweepResult, error) {
	var res SweepResult
	for _, kind := range []Kind{Scrape, Search} {
		keys, err := s.backend.List(ctx, string(kind))
		if err != nil {
			return res, fmt.Errorf("listing %s entries: %w", kind, err)
		}
		for _, key := range keys {
			if _, _, ok := ParsePath(key); !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Scanned++

			entry, err := s.read(ctx, key)
			switch {
			case errors.Is(err, ErrMiss):
				continue
			case err == nil && !entry.Expires.Before(cutoff):
				continue
			}

			if err := s.backend.Delete(ctx, key); err != nil {
				s.logger.Warn("failed to delete cache entry", "key", key, "error", err)
				res.Errors++
				continue
			}
			res.Deleted++
		}
	}
	return res, nil
}

func (s *Store) read(ctx context.Context, path string) (Entry, error) {
	rc, err := s.backend.Read(ctx, path)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return Entry{}, ErrMiss
		}
		return Entry{}, fmt.Errorf("reading %s: %w", path, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, maxDocumentSize))
	if err != nil {
		return Entry{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Entry{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return Entry{Expires: fromUnixSeconds(doc.Expires), Payload: doc.Payload}, nil
}

func toUnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func fromUnixSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
