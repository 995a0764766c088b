// Package backend provides the storage abstraction behind the on-disk cache
// tier.
package backend

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("not found")

// Backend stores opaque documents addressed by slash-separated keys such as
// "scrape/<hash>.json". Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores data at the given key, replacing any previous value.
	Write(ctx context.Context, key string, r io.Reader) error

	// Read retrieves data at the given key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes data at the given key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
