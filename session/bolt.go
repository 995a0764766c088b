package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

var bucketSessions = []byte("sessions")

// BoltStore persists sessions in a bbolt database so pending questions
// survive a restart.
type BoltStore struct {
	db     *bbolt.DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// BoltOption configures a BoltStore.
type BoltOption func(*BoltStore)

// WithBoltLogger sets the logger for the store.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(b *BoltStore) {
		b.logger = logger
	}
}

// WithBoltClock overrides the time source.
func WithBoltClock(now func() time.Time) BoltOption {
	return func(b *BoltStore) {
		b.now = now
	}
}

// OpenBolt opens or creates the database at path. A non-positive ttl
// selects DefaultTTL.
func OpenBolt(path string, ttl time.Duration, opts ...BoltOption) (*BoltStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	b := &BoltStore{
		ttl:    ttl,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket %s: %w", bucketSessions, err)
	}
	b.db = db

	b.logger.Debug("opened session database", "path", path)
	return b, nil
}

var _ Store = (*BoltStore)(nil)

func (b *BoltStore) Get(_ context.Context, id string) (*Session, error) {
	var s Session
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketSessions).Get([]byte(id))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &s)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if b.now().Sub(s.UpdatedAt) > b.ttl {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (b *BoltStore) Save(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id is required")
	}
	c := s.clone()
	c.UpdatedAt = b.now()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(c.ID), data)
	})
}

func (b *BoltStore) Delete(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(id))
	})
}

// Prune deletes idle sessions and returns how many were removed.
func (b *BoltStore) Prune() (int, error) {
	now := b.now()
	n := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var s Session
			if err := json.Unmarshal(v, &s); err != nil || now.Sub(s.UpdatedAt) > b.ttl {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	return n, err
}

func (b *BoltStore) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
