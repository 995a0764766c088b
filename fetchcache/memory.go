package fetchcache

import (
	"context"
	"time"

	"github.com/dreamdesk/dreamdesk"
	"github.com/dreamdesk/dreamdesk/diskcache"
	"github.com/dreamdesk/dreamdesk/fetchcache/s3fifo"
	"github.com/dreamdesk/dreamdesk/telemetry"
)

type memEntry[T any] struct {
	expires time.Time
	payload T
}

// memory is the in-process tier. Expiry never removes an entry, so an
// expired entry remains available as a stale fallback until S3-FIFO evicts
// it to honor the size bound.
type memory[T any] struct {
	entries *s3fifo.Cache[dreamdesk.Hash, memEntry[T]]
}

func newMemory[T any](kind diskcache.Kind, maxEntries int) *memory[T] {
	return &memory[T]{entries: s3fifo.New(s3fifo.Config[dreamdesk.Hash, memEntry[T]]{
		MaxEntries: maxEntries,
		OnEvict: func(dreamdesk.Hash, memEntry[T], string) {
			telemetry.RecordMemoryEviction(context.Background(), string(kind))
		},
	})}
}

func (m *memory[T]) get(key dreamdesk.Hash) (memEntry[T], bool) {
	return m.entries.Get(key)
}

func (m *memory[T]) put(key dreamdesk.Hash, payload T, expires time.Time) {
	m.entries.Set(key, memEntry[T]{expires: expires, payload: payload})
}

// seed stores payload only if the key has no entry yet.
func (m *memory[T]) seed(key dreamdesk.Hash, payload T, expires time.Time) {
	m.entries.SetIfAbsent(key, memEntry[T]{expires: expires, payload: payload})
}

func (m *memory[T]) len() int {
	return m.entries.Len()
}
