package main

import (
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{"version": "test"}, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, kctx
}

func TestCLI_Defaults(t *testing.T) {
	cli, kctx := parse(t, "ask", "Can I get TAP?")
	require.Equal(t, "ask <question>", kctx.Command())
	require.Equal(t, "Can I get TAP?", cli.Ask.Question)

	require.Equal(t, 24*time.Hour, cli.Cache.ScrapeTTL)
	require.Equal(t, 6*time.Hour, cli.Cache.SearchTTL)
	require.Equal(t, 45*time.Second, cli.Cache.Cooldown)
	require.Equal(t, "minimal", cli.Cache.PDFPolicy)
	require.Equal(t, 168*time.Hour, cli.Cache.StaleRetention)
	require.Equal(t, 5, cli.Curator.MaxScrapes)
	require.Equal(t, 6, cli.Curator.MaxExternal)
	require.Equal(t, 6000, cli.Curator.MaxContextChars)
	require.Equal(t, 25*time.Second, cli.Curator.TurnDeadline)
	require.Zero(t, cli.Curator.FastBootWindow)
	require.False(t, cli.Curator.FastMode)
	require.Equal(t, "openai", cli.LLM.LLMProvider)
	require.Equal(t, "memory", cli.Session.SessionStore)
}

func TestCLI_Environment(t *testing.T) {
	t.Setenv("FIRECRAWL_API_KEY", "fc-key")
	t.Setenv("FIRECRAWL_SCRAPE_TTL", "1h")
	t.Setenv("FIRECRAWL_PDF_POLICY", "skip")
	t.Setenv("TURN_DEADLINE", "0s")
	t.Setenv("FAST_BOOT_WINDOW", "10s")
	t.Setenv("SESSION_STORE", "bolt")
	t.Setenv("AUTH_TOKEN", "secret")

	cli, kctx := parse(t, "serve")
	require.Equal(t, "serve", kctx.Command())
	require.Equal(t, "fc-key", cli.Provider.FirecrawlAPIKey)
	require.Equal(t, time.Hour, cli.Cache.ScrapeTTL)
	require.Equal(t, "skip", cli.Cache.PDFPolicy)
	require.Zero(t, cli.Curator.TurnDeadline)
	require.Equal(t, 10*time.Second, cli.Curator.FastBootWindow)
	require.Equal(t, "bolt", cli.Session.SessionStore)
	require.Equal(t, "secret", cli.Serve.AuthToken)
	require.True(t, cli.Serve.WarmOnStart)
}

func TestCLI_RejectsUnknownPolicy(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{"version": "test"})
	require.NoError(t, err)
	_, err = parser.Parse([]string{"serve", "--pdf-policy", "everything"})
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		logger, err := newLogger("debug", format)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}

	_, err := newLogger("loud", "text")
	require.Error(t, err)
	_, err = newLogger("info", "xml")
	require.Error(t, err)
}

func TestCatalog(t *testing.T) {
	g := &Globals{}
	catalog, err := g.catalog()
	require.NoError(t, err)
	require.NotEmpty(t, catalog.URLs())

	g.Curator.Catalog = "/nonexistent/catalog.yaml"
	_, err = g.catalog()
	require.Error(t, err)
}
