// Package s3fifo implements the S3-FIFO eviction algorithm over an
// in-process map.
// See: https://www.pdl.cmu.edu/ftp/Storage/CMU-CS-24-149-juncheny.pdf
//
// New keys enter a small probationary queue. Keys read while on probation
// are promoted to the main queue when they reach its tail; the rest are
// evicted and remembered in a ghost set, so a quick re-admission goes
// straight to main. Main gives keys read since their last pass a second
// chance.
package s3fifo

import (
	"container/list"
	"sync"
)

const (
	defaultSmallPercent = 10

	// maxFreq caps the per-entry access counter.
	maxFreq = 3
)

// Queue names reported to the eviction callback.
const (
	QueueSmall = "small"
	QueueMain  = "main"
)

// Config holds eviction settings.
type Config[K comparable, V any] struct {
	// MaxEntries bounds the number of resident entries. Zero or less
	// disables eviction.
	MaxEntries int

	// SmallPercent is the share of MaxEntries reserved for the small queue.
	// Default: 10.
	SmallPercent int

	// OnEvict is called, with the cache lock held, for every evicted entry.
	OnEvict func(key K, value V, queue string)
}

type entry[K comparable, V any] struct {
	key   K
	value V
	freq  int
	queue string
	elem  *list.Element
}

// Cache is a bounded map with S3-FIFO eviction. It is safe for concurrent
// use.
type Cache[K comparable, V any] struct {
	cfg         Config[K, V]
	smallTarget int

	mu      sync.Mutex
	entries map[K]*entry[K, V]
	small   *list.List // front is newest
	main    *list.List
	ghost   *list.List
	ghosts  map[K]*list.Element
}

// New creates a cache.
func New[K comparable, V any](cfg Config[K, V]) *Cache[K, V] {
	if cfg.SmallPercent <= 0 || cfg.SmallPercent >= 100 {
		cfg.SmallPercent = defaultSmallPercent
	}
	target := cfg.MaxEntries * cfg.SmallPercent / 100
	if target < 1 {
		target = 1
	}
	return &Cache[K, V]{
		cfg:         cfg,
		smallTarget: target,
		entries:     make(map[K]*entry[K, V]),
		small:       list.New(),
		main:        list.New(),
		ghost:       list.New(),
		ghosts:      make(map[K]*list.Element),
	}
}

// Get returns the value for key and marks it as accessed.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if e.freq < maxFreq {
		e.freq++
	}
	return e.value, true
}

// Set stores value for key. An existing entry keeps its queue position.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.value = value
		return
	}
	c.admit(key, value)
}

// SetIfAbsent stores value only if key is not resident. It reports whether
// the value was stored.
func (c *Cache[K, V]) SetIfAbsent(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.admit(key, value)
	return true
}

// Len returns the number of resident entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// QueueLens returns the small, main and ghost queue lengths.
func (c *Cache[K, V]) QueueLens() (small, main, ghost int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.small.Len(), c.main.Len(), c.ghost.Len()
}

func (c *Cache[K, V]) admit(key K, value V) {
	e := &entry[K, V]{key: key, value: value}
	if g, ok := c.ghosts[key]; ok {
		c.ghost.Remove(g)
		delete(c.ghosts, key)
		e.queue = QueueMain
		e.elem = c.main.PushFront(e)
	} else {
		e.queue = QueueSmall
		e.elem = c.small.PushFront(e)
	}
	c.entries[key] = e

	if c.cfg.MaxEntries <= 0 {
		return
	}
	for len(c.entries) > c.cfg.MaxEntries {
		c.evict()
	}
}

// evict removes exactly one resident entry.
func (c *Cache[K, V]) evict() {
	for {
		if c.small.Len() >= c.smallTarget || c.main.Len() == 0 {
			if c.evictSmall() {
				return
			}
			continue
		}
		if c.evictMain() {
			return
		}
	}
}

// evictSmall pops the small tail. It reports whether an entry left the
// cache; false means the entry was promoted to main.
func (c *Cache[K, V]) evictSmall() bool {
	back := c.small.Back()
	if back == nil {
		return c.evictMain()
	}
	e := c.small.Remove(back).(*entry[K, V])

	if e.freq > 0 {
		e.freq = 0
		e.queue = QueueMain
		e.elem = c.main.PushFront(e)
		return false
	}

	c.drop(e, QueueSmall)
	c.ghosts[e.key] = c.ghost.PushFront(e.key)
	for c.ghost.Len() > c.ghostMax() {
		old := c.ghost.Remove(c.ghost.Back()).(K)
		delete(c.ghosts, old)
	}
	return true
}

// evictMain pops the main tail, reinserting entries that were read since
// their last pass.
func (c *Cache[K, V]) evictMain() bool {
	back := c.main.Back()
	if back == nil {
		return false
	}
	e := c.main.Remove(back).(*entry[K, V])
	if e.freq > 0 {
		e.freq--
		e.elem = c.main.PushFront(e)
		return false
	}
	c.drop(e, QueueMain)
	return true
}

func (c *Cache[K, V]) drop(e *entry[K, V], queue string) {
	delete(c.entries, e.key)
	if c.cfg.OnEvict != nil {
		c.cfg.OnEvict(e.key, e.value, queue)
	}
}

func (c *Cache[K, V]) ghostMax() int {
	if n := c.cfg.MaxEntries - c.smallTarget; n > 0 {
		return n
	}
	return 1
}
