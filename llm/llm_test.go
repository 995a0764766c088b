package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_RequiresCredentials(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Config{Logger: testLogger()})
	require.ErrorIs(t, err, ErrNoCredentials)

	_, err = New(ctx, Config{Provider: "gemini", OpenAIAPIKey: "sk-x", Logger: testLogger()})
	require.ErrorIs(t, err, ErrNoCredentials)

	_, err = New(ctx, Config{Provider: "claude", Logger: testLogger()})
	require.ErrorContains(t, err, "unknown provider")

	c, err := New(ctx, Config{OpenAIAPIKey: "sk-x", Logger: testLogger()})
	require.NoError(t, err)
	require.Equal(t, ProviderOpenAI, c.Name())
}

func TestOpenAI_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Temperature float64 `json:"temperature"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-test", body.Model)
		require.Len(t, body.Messages, 2)
		require.Equal(t, "system", body.Messages[0].Role)
		require.Equal(t, "classify this", body.Messages[0].Content)
		require.Equal(t, "user", body.Messages[1].Role)
		require.InDelta(t, 0.1, body.Temperature, 1e-9)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "residency"}}]
		}`))
	}))
	defer srv.Close()

	c := NewOpenAI(OpenAIConfig{
		APIKey:      "sk-test",
		Model:       "gpt-test",
		BaseURL:     srv.URL + "/",
		Temperature: 0.1,
		Options:     []option.RequestOption{option.WithMaxRetries(0)},
	})
	out, err := c.Complete(context.Background(), "classify this", "I am undocumented")
	require.NoError(t, err)
	require.Equal(t, "residency", out)
}

func TestOpenAI_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAI(OpenAIConfig{
		APIKey:  "sk-bad",
		BaseURL: srv.URL + "/",
		Options: []option.RequestOption{option.WithMaxRetries(0)},
	})
	_, err := c.Complete(context.Background(), "s", "u")
	require.Error(t, err)
}

func TestGemini_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "gemini-test:generateContent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"scholarships"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewGemini(context.Background(), GeminiConfig{
		APIKey:  "g-test",
		Model:   "gemini-test",
		BaseURL: srv.URL + "/",
	})
	require.NoError(t, err)
	require.Equal(t, ProviderGemini, c.Name())

	out, err := c.Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	require.Equal(t, "scholarships", out)
}

type stubClient struct {
	out string
	err error
}

func (s stubClient) Name() string { return "stub" }

func (s stubClient) Complete(ctx context.Context, system, user string) (string, error) {
	return s.out, s.err
}

func TestInstrument(t *testing.T) {
	c := Instrument(stubClient{out: "ok"}, testLogger())
	require.Equal(t, "stub", c.Name())

	out, err := c.Complete(WithPurpose(context.Background(), "classify"), "s", "u")
	require.NoError(t, err)
	require.Equal(t, "ok", out)

	failing := Instrument(stubClient{out: "partial", err: errors.New("boom")}, testLogger())
	out, err = failing.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	require.Empty(t, out)
}

func TestPurpose(t *testing.T) {
	require.Equal(t, "unknown", purposeFrom(context.Background()))
	require.Equal(t, "cards", purposeFrom(WithPurpose(context.Background(), "cards")))
}
