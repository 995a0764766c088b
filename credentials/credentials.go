// Package credentials renders a JSON credentials template so API keys can
// come from the environment, files, or secret managers instead of flags.
//
// A template looks like:
//
//	{
//	  "firecrawl_api_key": {{ op "op://dev/firecrawl/credential" | json }},
//	  "openai_api_key": {{ env "OPENAI_API_KEY" | json }},
//	  "auth_token": {{ file "/run/secrets/auth_token" | json }}
//	}
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/template"
)

const (
	// maxInputSize is the maximum size of a credentials template file (1MB).
	maxInputSize = 1 << 20
	// maxOutputSize is the maximum size of rendered template output (1MB).
	maxOutputSize = 1 << 20
)

// Credentials holds the resolved secrets.
type Credentials struct {
	FirecrawlAPIKey string `json:"firecrawl_api_key,omitempty"`
	OpenAIAPIKey    string `json:"openai_api_key,omitempty"`
	GeminiAPIKey    string `json:"gemini_api_key,omitempty"`
	ValkeyPassword  string `json:"valkey_password,omitempty"`
	AuthToken       string `json:"auth_token,omitempty"`
}

// Overlay copies every secret set in c over the matching target, leaving
// targets alone where c is empty. Nil targets are skipped.
func (c *Credentials) Overlay(firecrawl, openai, gemini, valkey, auth *string) {
	if c == nil {
		return
	}
	for _, f := range []struct {
		src string
		dst *string
	}{
		{c.FirecrawlAPIKey, firecrawl},
		{c.OpenAIAPIKey, openai},
		{c.GeminiAPIKey, gemini},
		{c.ValkeyPassword, valkey},
		{c.AuthToken, auth},
	} {
		if f.src != "" && f.dst != nil {
			*f.dst = f.src
		}
	}
}

// SecretProvider resolves a secret reference to its value.
type SecretProvider func(ctx context.Context, ref string) (string, error)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// Resolver executes a template file and parses the result into Credentials.
type Resolver struct {
	providers map[string]SecretProvider
	logger    *slog.Logger
}

// WithLogger sets the logger for the resolver.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithProvider registers a named secret provider as a template function.
func WithProvider(name string, p SecretProvider) ResolverOption {
	return func(r *Resolver) {
		r.providers[name] = p
	}
}

// NewResolver creates a new credential resolver with the given options.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: make(map[string]SecretProvider),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveFile reads and resolves a credentials template file.
func (r *Resolver) ResolveFile(ctx context.Context, path string) (*Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening credentials file: %w", err)
	}
	defer f.Close()

	creds, err := r.ResolveReader(ctx, f)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("resolved credentials", "path", path, "fields", creds.setFields())
	return creds, nil
}

// ResolveReader resolves a credentials template from a reader.
func (r *Resolver) ResolveReader(ctx context.Context, reader io.Reader) (*Credentials, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading credentials template: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("credentials template exceeds maximum size of %d bytes", maxInputSize)
	}

	// Provider lookups are memoized for the duration of one render.
	memo := make(map[string]string)
	tmpl, err := template.New("credentials").
		Option("missingkey=error").
		Funcs(r.funcMap(ctx, memo)).
		Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing credentials template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("executing credentials template: %w", err)
	}
	if buf.Len() > maxOutputSize {
		return nil, fmt.Errorf("rendered credentials exceed maximum size of %d bytes", maxOutputSize)
	}

	var creds Credentials
	if len(bytes.TrimSpace(buf.Bytes())) == 0 {
		return &creds, nil
	}
	dec := json.NewDecoder(&buf)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&creds); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON after template execution: %w", err)
	}
	return &creds, nil
}

// setFields names the populated fields, never their values.
func (c *Credentials) setFields() []string {
	var out []string
	for name, v := range map[string]string{
		"firecrawl_api_key": c.FirecrawlAPIKey,
		"openai_api_key":    c.OpenAIAPIKey,
		"gemini_api_key":    c.GeminiAPIKey,
		"valkey_password":   c.ValkeyPassword,
		"auth_token":        c.AuthToken,
	} {
		if v != "" {
			out = append(out, name)
		}
	}
	return out
}

func (r *Resolver) funcMap(ctx context.Context, memo map[string]string) template.FuncMap {
	fm := template.FuncMap{
		"env": func(key string) (string, error) {
			val, ok := os.LookupEnv(key)
			if !ok {
				return "", fmt.Errorf("environment variable %q is not set", key)
			}
			return val, nil
		},
		"envDefault": func(key, fallback string) string {
			if val, ok := os.LookupEnv(key); ok {
				return val
			}
			return fallback
		},
		"file": func(path string) (string, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("reading file %q: %w", path, err)
			}
			return strings.TrimSpace(string(data)), nil
		},
		"json": func(v string) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("JSON encoding value: %w", err)
			}
			return string(b), nil
		},
	}

	for name, p := range r.providers {
		fm[name] = func(ref string) (string, error) {
			key := name + ":" + ref
			if val, ok := memo[key]; ok {
				return val, nil
			}
			val, err := p(ctx, ref)
			if err != nil {
				return "", fmt.Errorf("provider %q failed for ref %q: %w", name, ref, err)
			}
			memo[key] = val
			return val, nil
		}
	}
	return fm
}
