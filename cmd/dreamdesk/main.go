// Command dreamdesk answers college-benefit questions for immigrant students
// from curated public sources.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/dreamdesk/dreamdesk/agent"
	"github.com/dreamdesk/dreamdesk/curator"
	"github.com/dreamdesk/dreamdesk/server"
	"github.com/dreamdesk/dreamdesk/telemetry"
)

var version = "dev"

// Globals are shared by every command.
type Globals struct {
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" env:"LOG_LEVEL" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log format (text, json)." default:"text" env:"LOG_FORMAT" enum:"text,json"`
	EnvFile   string `help:"Optional .env file loaded before parsing." default:".env" name:"env-file"`

	CredentialsFile string `help:"JSON credentials template overriding API keys." env:"CREDENTIALS_FILE" type:"path"`

	Provider ProviderFlags `embed:"" prefix:""`
	Cache    CacheFlags    `embed:"" prefix:""`
	Curator  CuratorFlags  `embed:"" prefix:""`
	LLM      LLMFlags      `embed:"" prefix:""`
	Session  SessionFlags  `embed:"" prefix:""`

	logger *slog.Logger
}

// ProviderFlags select and tune the content provider.
type ProviderFlags struct {
	FirecrawlAPIKey string        `help:"Provider API key; without one pages are fetched directly." env:"FIRECRAWL_API_KEY"`
	FirecrawlURL    string        `help:"Provider base URL." default:"https://api.firecrawl.dev/v1" env:"FIRECRAWL_BASE_URL" name:"firecrawl-base-url"`
	ConnectTimeout  time.Duration `help:"Provider dial timeout." default:"5s" env:"FIRECRAWL_CONNECT_TIMEOUT"`
	ReadTimeout     time.Duration `help:"Provider response timeout." default:"60s" env:"FIRECRAWL_READ_TIMEOUT"`
	ProbeTimeout    time.Duration `help:"HEAD probe timeout for PDF detection." default:"3s" env:"FIRECRAWL_PROBE_TIMEOUT"`
}

// CacheFlags tune the fetch cache.
type CacheFlags struct {
	ScrapeTTL       time.Duration `help:"How long a scraped page stays fresh." default:"24h" env:"FIRECRAWL_SCRAPE_TTL"`
	SearchTTL       time.Duration `help:"How long search results stay fresh." default:"6h" env:"FIRECRAWL_SEARCH_TTL"`
	Cooldown        time.Duration `help:"Provider cooldown after a rate limit." default:"45s" env:"FIRECRAWL_COOLDOWN"`
	CacheDir        string        `help:"On-disk cache root; empty keeps the cache in memory only." env:"FIRECRAWL_CACHE_DIR" type:"path"`
	PDFPolicy       string        `help:"PDF handling (skip, minimal, full)." default:"minimal" env:"FIRECRAWL_PDF_POLICY" enum:"skip,minimal,full" name:"pdf-policy"`
	MaxAttempts     int           `help:"Attempts per provider call on transient errors." default:"3" env:"FIRECRAWL_MAX_ATTEMPTS"`
	RetryBackoff    time.Duration `help:"Linear retry backoff step." default:"1s" env:"FIRECRAWL_RETRY_BACKOFF"`
	MaxContentChars int           `help:"Character cap per scraped document." default:"20000" env:"FIRECRAWL_MAX_CONTENT_CHARS"`
	MemoryEntries   int           `help:"In-memory entries per kind before S3-FIFO eviction; negative is unbounded." default:"4096" env:"FIRECRAWL_MEMORY_ENTRIES"`
	ReapInterval    time.Duration `help:"Disk reaper interval; 0 disables." default:"0s" env:"FIRECRAWL_REAP_INTERVAL"`
	StaleRetention  time.Duration `help:"How long expired disk entries are kept for stale serving." default:"168h" env:"FIRECRAWL_STALE_RETENTION"`
}

// CuratorFlags bound the per-turn context gathering.
type CuratorFlags struct {
	Catalog           string        `help:"YAML catalog of curated pages; default is the built-in catalog." env:"CURATOR_CATALOG" type:"path"`
	MaxScrapes        int           `help:"Search hits scraped per turn." default:"5" env:"MAX_SCRAPES_PER_TURN" name:"max-scrapes-per-turn"`
	MaxExternal       int           `help:"External search results kept per turn." default:"6" env:"MAX_EXTERNAL_RESULTS"`
	MaxContextChars   int           `help:"Per-item context truncation." default:"6000" env:"MAX_CONTEXT_CHARS"`
	SoftSearchTimeout time.Duration `help:"Soft budget for the search phase." default:"8s" env:"SOFT_SEARCH_TIMEOUT"`
	TurnDeadline      time.Duration `help:"Deadline for gathering context and writing the answer." default:"25s" env:"TURN_DEADLINE"`
	FastBootWindow    time.Duration `help:"Answer from catalog snippets for this long after startup." default:"0s" env:"FAST_BOOT_WINDOW"`
	FastMode          bool          `help:"Always answer from catalog snippets without fetching." env:"FAST_MODE"`
}

// LLMFlags select the language model.
type LLMFlags struct {
	LLMProvider  string `help:"Language model provider (openai, gemini)." default:"openai" env:"LLM_PROVIDER" name:"llm-provider" enum:"openai,gemini"`
	OpenAIAPIKey string `help:"OpenAI API key." env:"OPENAI_API_KEY" name:"openai-api-key"`
	OpenAIModel  string `help:"OpenAI model." default:"gpt-4o-mini" env:"OPENAI_MODEL" name:"openai-model"`
	GeminiAPIKey string `help:"Gemini API key." env:"GEMINI_API_KEY"`
	GeminiModel  string `help:"Gemini model." default:"gemini-2.5-flash" env:"GEMINI_MODEL"`
}

// SessionFlags select the conversation store.
type SessionFlags struct {
	SessionStore   string        `help:"Session store (memory, bolt, valkey)." default:"memory" env:"SESSION_STORE" enum:"memory,bolt,valkey"`
	SessionPath    string        `help:"Session database for the bolt store." default:"./sessions.db" env:"SESSION_BOLT_PATH" name:"session-bolt-path" type:"path"`
	SessionTTL     time.Duration `help:"Idle session expiry." default:"24h" env:"SESSION_TTL"`
	ValkeyAddress  string        `help:"Valkey address (host:port)." env:"VALKEY_ADDRESS"`
	ValkeyPassword string        `help:"Valkey password." env:"VALKEY_PASSWORD"`
	ValkeyDB       int           `help:"Valkey database number." default:"0" env:"VALKEY_DB" name:"valkey-db"`
	ValkeyPrefix   string        `help:"Valkey key prefix." default:"dreamdesk" env:"VALKEY_PREFIX"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Serve   ServeCmd         `cmd:"" help:"Run the HTTP server." default:"1"`
	Ask     AskCmd           `cmd:"" help:"Answer one question and print the response as JSON."`
	Warm    WarmCmd          `cmd:"" help:"Fetch the curated pages into the cache."`
	Reap    ReapCmd          `cmd:"" help:"Run one disk cache reaper pass."`
	Version kong.VersionFlag `help:"Print version and exit."`
}

// ServeCmd runs the HTTP server.
type ServeCmd struct {
	Address     string        `help:"Address to listen on." default:":8080" env:"ADDRESS"`
	AuthToken   string        `help:"Bearer token protecting the admin endpoints." env:"AUTH_TOKEN"`
	WarmOnStart bool          `help:"Warm the curated pages in the background at startup." default:"true" env:"WARM_ON_START" negatable:""`
	OTLP        string        `help:"OTLP gRPC metrics endpoint (host:port)." env:"OTLP_ENDPOINT" name:"otlp-endpoint"`
	Prometheus  bool          `help:"Expose Prometheus metrics at /metrics." env:"PROMETHEUS"`
	Shutdown    time.Duration `help:"Graceful shutdown timeout." default:"10s" name:"shutdown-timeout"`
}

// Run starts the server and blocks until a signal arrives.
func (c *ServeCmd) Run(g *Globals) error {
	logger := g.logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "dreamdesk",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLP,
		EnablePrometheus: c.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	authToken := c.AuthToken
	if err := g.applyCredentials(ctx, &authToken); err != nil {
		return err
	}

	st, err := g.buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if st.reaper != nil {
		if err := st.reaper.Start(ctx); err != nil {
			return fmt.Errorf("starting reaper: %w", err)
		}
		defer st.reaper.Stop()
	}

	go st.pruneSessions(ctx, logger)

	srv, err := server.New(server.Config{
		Address:     c.Address,
		AuthToken:   authToken,
		WarmURLs:    st.curator.Catalog().URLs(),
		WarmOnStart: c.WarmOnStart,
		Logger:      logger,
	}, st.agent, st.cache)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"version", version,
		"provider", st.cache.Stats().Provider,
		"sessions", g.Session.SessionStore,
		"auth", authToken != "",
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Shutdown)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// AskCmd runs one turn from the command line.
type AskCmd struct {
	Question   string `arg:"" help:"The question to ask."`
	SessionID  string `help:"Continue an existing session." name:"session"`
	SchoolCode string `help:"Campus code, e.g. ccny." name:"school"`
	InState    *bool  `help:"Whether the student already pays in-state tuition." name:"in-state"`
}

// Run answers the question and prints the response.
func (c *AskCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := g.applyCredentials(ctx, nil); err != nil {
		return err
	}
	st, err := g.buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	req := agent.Request{SessionID: c.SessionID, Message: c.Question}
	if c.SchoolCode != "" || c.InState != nil {
		req.Profile = &agent.Profile{SchoolCode: c.SchoolCode, HasInState: c.InState}
	}
	resp := st.agent.Handle(ctx, req)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// WarmCmd fetches curated pages so later turns are served from cache.
type WarmCmd struct {
	URLs []string `arg:"" optional:"" help:"URLs to warm; default is every curated page."`
}

// Run warms the cache.
func (c *WarmCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := g.applyCredentials(ctx, nil); err != nil {
		return err
	}
	if g.Cache.CacheDir == "" {
		g.logger.Warn("no cache directory configured, warmed pages are lost on exit")
	}
	cache, _, err := g.buildCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	urls := c.URLs
	if len(urls) == 0 {
		catalog, err := g.catalog()
		if err != nil {
			return err
		}
		urls = catalog.URLs()
	}

	start := time.Now()
	warmed := cache.WarmCache(ctx, urls)
	g.logger.Info("cache warmed", "requested", len(urls), "warmed", warmed, "duration", time.Since(start))
	if warmed < len(urls) {
		return fmt.Errorf("warmed %d of %d urls", warmed, len(urls))
	}
	return nil
}

// ReapCmd runs one sweep of the disk cache.
type ReapCmd struct{}

// Run sweeps once and reports the result.
func (c *ReapCmd) Run(g *Globals) error {
	if g.Cache.CacheDir == "" {
		return errors.New("reap requires a cache directory (--cache-dir or FIRECRAWL_CACHE_DIR)")
	}
	_, disk, err := g.buildCache()
	if err != nil {
		return err
	}
	res := g.reaper(disk).RunOnce(context.Background())
	g.logger.Info("reap complete",
		"scanned", res.Scanned,
		"deleted", res.Deleted,
		"errors", res.Errors,
		"duration", res.Duration,
	)
	return nil
}

func main() {
	// A missing .env is fine; the flag is only known after parsing, so the
	// conventional path is checked up front.
	envFile := ".env"
	for i, a := range os.Args {
		if v, ok := strings.CutPrefix(a, "--env-file="); ok {
			envFile = v
		} else if a == "--env-file" && i+1 < len(os.Args) {
			envFile = os.Args[i+1]
		}
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading %s: %v\n", envFile, err)
		os.Exit(1)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("dreamdesk"),
		kong.Description("College-benefit answers for immigrant students."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	kctx.FatalIfErrorf(err)
	slog.SetDefault(logger)
	cli.logger = logger

	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

func newLogger(levelName, format string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", levelName)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

func (g *Globals) catalog() (*curator.Catalog, error) {
	if g.Curator.Catalog == "" {
		return curator.DefaultCatalog(), nil
	}
	catalog, err := curator.LoadCatalog(g.Curator.Catalog)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	return catalog, nil
}
