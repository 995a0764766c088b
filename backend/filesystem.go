package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidKey is returned for keys that would resolve outside the root.
var ErrInvalidKey = errors.New("invalid key")

const tempPrefix = ".tmp-"

// Filesystem stores cache documents as files under a root directory, one
// file per key. A document is written to a temp file in the target directory
// and renamed into place, so readers see either the old or the new document.
type Filesystem struct {
	root     string
	fileMode os.FileMode
	noSync   bool
}

// FilesystemOption configures a Filesystem.
type FilesystemOption func(*Filesystem)

// WithFileMode sets the permissions of written documents. Default: 0o644.
func WithFileMode(mode os.FileMode) FilesystemOption {
	return func(f *Filesystem) { f.fileMode = mode }
}

// WithNoSync skips fsync after each write. Only useful in tests.
func WithNoSync() FilesystemOption {
	return func(f *Filesystem) { f.noSync = true }
}

// NewFilesystem opens root, creating it if needed.
func NewFilesystem(root string, opts ...FilesystemOption) (*Filesystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	f := &Filesystem{root: abs, fileMode: 0o644}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the absolute root directory.
func (f *Filesystem) Root() string {
	return f.root
}

func (f *Filesystem) Write(ctx context.Context, key string, r io.Reader) error {
	dst, err := f.resolve(key, false)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r}); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if !f.noSync {
		if err := tmp.Sync(); err != nil {
			return fmt.Errorf("syncing %s: %w", key, err)
		}
	}
	if err := tmp.Chmod(f.fileMode); err != nil {
		return fmt.Errorf("setting mode on %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("committing %s: %w", key, err)
	}
	committed = true
	return nil
}

func (f *Filesystem) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	src, err := f.resolve(key, false)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", key, err)
	}
	return file, nil
}

func (f *Filesystem) Delete(ctx context.Context, key string) error {
	p, err := f.resolve(key, false)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", key, err)
	}
	return nil
}

func (f *Filesystem) Exists(ctx context.Context, key string) (bool, error) {
	p, err := f.resolve(key, false)
	if err != nil {
		return false, err
	}
	switch _, err := os.Stat(p); {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
}

// List walks everything under prefix. An empty prefix lists the whole root.
// Temp files left by interrupted writes are skipped.
func (f *Filesystem) List(ctx context.Context, prefix string) ([]string, error) {
	dir, err := f.resolve(prefix, true)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", prefix, err)
	}
	if !info.IsDir() {
		return []string{prefix}, nil
	}

	var keys []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	return keys, nil
}

// resolve maps a slash-separated key onto a path under the root. Keys that
// are absolute, contain "..", or name a temp file are rejected.
func (f *Filesystem) resolve(key string, allowEmpty bool) (string, error) {
	if key == "" {
		if allowEmpty {
			return f.root, nil
		}
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.ContainsRune(key, '\\') {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean != key || clean == ".." || strings.HasPrefix(clean, "../") ||
		strings.HasPrefix(path.Base(clean), tempPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ Backend = (*Filesystem)(nil)
