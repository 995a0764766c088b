// Package opprovider resolves credential template references with the
// 1Password CLI.
package opprovider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dreamdesk/dreamdesk/credentials"
)

// Option configures the provider.
type Option func(*config)

type config struct {
	binary  string
	timeout time.Duration
}

// WithBinary overrides the CLI path. Default "op" from PATH.
func WithBinary(path string) Option {
	return func(c *config) {
		c.binary = path
	}
}

// WithTimeout bounds each lookup. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Read returns a SecretProvider running `op read <ref>`.
func Read(opts ...Option) credentials.SecretProvider {
	cfg := config{binary: "op", timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, ref string) (string, error) {
		if !strings.HasPrefix(ref, "op://") {
			return "", fmt.Errorf("1password reference %q must start with op://", ref)
		}
		ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, cfg.binary, "read", "--no-newline", ref)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("op read %q: %s: %w", ref, strings.TrimSpace(stderr.String()), err)
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}

// WithOnePassword registers the "op" template function.
func WithOnePassword(opts ...Option) credentials.ResolverOption {
	return credentials.WithProvider("op", Read(opts...))
}
