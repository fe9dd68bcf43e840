// Command trackrelay is the main entrypoint for the audio relay service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires the request pipeline: metadata resolution, the ordered provider
//     chain, the size-bounded fetcher, and the delivery sink.
//   - Starts the stale spool sweeper and the kv heartbeat.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics, and
//     the /requests submission API.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/trackrelay/trackrelay/config"
	"github.com/trackrelay/trackrelay/db"
	"github.com/trackrelay/trackrelay/fetch"
	"github.com/trackrelay/trackrelay/metadata"
	"github.com/trackrelay/trackrelay/pipeline"
	"github.com/trackrelay/trackrelay/provider"
	"github.com/trackrelay/trackrelay/relay"
	"github.com/trackrelay/trackrelay/server"
	"github.com/trackrelay/trackrelay/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateSinkReady(); err != nil {
		slog.Error("sink configuration incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("trackrelay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pipeline wiring
	resolver := metadata.NewResolver(&http.Client{Timeout: cfg.MetadataTimeout},
		metadata.WithTimeout(cfg.MetadataTimeout))

	providers := buildProviders(ctx, cfg)
	if len(providers) == 0 {
		slog.Error("no providers configured", slog.Any("order", cfg.ProviderOrder))
		os.Exit(1)
	}
	chain := provider.NewChain(providers, cfg.ProviderTimeout)
	slog.Info("provider chain assembled", slog.Any("providers", chain.Providers()))

	fetcher := fetch.NewFetcher(fetch.Options{
		DataDir:       cfg.DataDir,
		MinBytes:      cfg.FetchMinBytes,
		MaxBytes:      cfg.FetchMaxBytes,
		MaxConcurrent: cfg.MaxConcurrentFetch,
		Timeout:       cfg.FetchTimeout,
	})

	sink := relay.NewTelegramSink(relay.TelegramSinkConfig{
		BaseURL:  cfg.SinkBaseURL,
		Token:    cfg.SinkToken,
		ChatID:   cfg.SinkChatID,
		MaxBytes: cfg.SinkMaxBytes,
	})

	journal := pipeline.NewJournal(database)
	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Resolver:            resolver,
		Chain:               chain,
		Fetcher:             fetcher,
		Sink:                sink,
		Journal:             journal,
		MaxFallbackAttempts: cfg.MaxFallbackAttempts,
		MaxInflightRequests: cfg.MaxInflightRequests,
	})

	// Background jobs
	go fetch.StartSpoolSweeper(ctx, cfg.DataDir, time.Hour, 10*time.Minute)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.Heartbeat(ctx, database, "heartbeat:pipeline")
			}
		}
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/requests)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handlers := server.NewHandlers(ctx, database, orch, journal, fetcher)
	go func() {
		if err := server.Start(ctx, handlers, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// buildProviders assembles the ordered provider set from config. Unknown
// names are logged and skipped; the catalog adapter is only included when its
// credentials are configured.
func buildProviders(ctx context.Context, cfg *config.Config) []provider.Provider {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	var providers []provider.Provider
	for _, name := range cfg.ProviderOrder {
		switch name {
		case "direct":
			providers = append(providers, provider.NewDirectProvider(httpClient))
		case "youtube":
			providers = append(providers, provider.NewYouTubeProvider(httpClient))
		case "catalog":
			if !cfg.CatalogEnabled() {
				slog.Info("catalog provider disabled (missing credentials)")
				continue
			}
			providers = append(providers, provider.NewCatalogProvider(ctx, provider.CatalogConfig{
				BaseURL:      cfg.CatalogBaseURL,
				TokenURL:     cfg.CatalogTokenURL,
				ClientID:     cfg.CatalogClientID,
				ClientSecret: cfg.CatalogClientSecret,
			}))
		case "scrape":
			providers = append(providers, provider.NewScrapeProvider(httpClient))
		default:
			slog.Warn("unknown provider in PROVIDER_ORDER, skipping", slog.String("provider", name))
		}
	}
	return providers
}
