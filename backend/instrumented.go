package backend

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dreamdesk/dreamdesk/telemetry"
)

// InstrumentedBackend records a telemetry.RecordBackendOp sample for every
// call on the wrapped Backend.
type InstrumentedBackend struct {
	backend Backend
	name    string
}

// NewInstrumentedBackend wraps b; name becomes the backend metric attribute.
func NewInstrumentedBackend(b Backend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{backend: b, name: name}
}

func (ib *InstrumentedBackend) observe(ctx context.Context, op string, start time.Time, err error, n int64) {
	telemetry.RecordBackendOp(ctx, ib.name, op, outcomeFromError(err), time.Since(start), n)
}

func (ib *InstrumentedBackend) Write(ctx context.Context, key string, r io.Reader) error {
	start := time.Now()
	cr := &countingReader{r: r}
	err := ib.backend.Write(ctx, key, cr)
	ib.observe(ctx, "write", start, err, cr.n)
	return err
}

// Read records a failed open immediately. A successful read is recorded when
// the caller closes the body, with the bytes actually consumed.
func (ib *InstrumentedBackend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := ib.backend.Read(ctx, key)
	if err != nil {
		ib.observe(ctx, "read", start, err, 0)
		return nil, err
	}
	return &countingReadCloser{
		rc: rc,
		done: func(n int64) {
			ib.observe(ctx, "read", start, nil, n)
		},
	}, nil
}

func (ib *InstrumentedBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := ib.backend.Delete(ctx, key)
	ib.observe(ctx, "delete", start, err, 0)
	return err
}

func (ib *InstrumentedBackend) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := ib.backend.Exists(ctx, key)
	ib.observe(ctx, "exists", start, err, 0)
	return exists, err
}

func (ib *InstrumentedBackend) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := ib.backend.List(ctx, prefix)
	ib.observe(ctx, "list", start, err, 0)
	return keys, err
}

// Unwrap returns the underlying backend.
func (ib *InstrumentedBackend) Unwrap() Backend {
	return ib.backend
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

type countingReadCloser struct {
	rc   io.ReadCloser
	n    int64
	once sync.Once
	done func(n int64)
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	err := c.rc.Close()
	c.once.Do(func() { c.done(c.n) })
	return err
}

var _ Backend = (*InstrumentedBackend)(nil)
