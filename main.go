// Command chatroll runs the weekly chat leaderboard.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the store (Postgres with migrations, or in-memory).
//   - Connects the chat feed (Kick polling or Twitch IRC).
//   - Starts the poll loop and the overdue-cycle reconciler.
//   - Exposes the HTTP read surface, admin actions, /healthz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatroll/chat"
	"github.com/onnwee/chatroll/config"
	"github.com/onnwee/chatroll/crypto"
	"github.com/onnwee/chatroll/cycle"
	"github.com/onnwee/chatroll/db"
	"github.com/onnwee/chatroll/kick"
	"github.com/onnwee/chatroll/memstore"
	"github.com/onnwee/chatroll/server"
	"github.com/onnwee/chatroll/spam"
	"github.com/onnwee/chatroll/telemetry"
	"github.com/onnwee/chatroll/twitchapi"
)

const bootstrapTimeout = 10 * time.Second

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing(context.Background(), telemetry.TracingOptions{
		ServiceName:    "chatroll",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, ping, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore()

	var wg sync.WaitGroup
	feed := openFeed(ctx, cfg, &wg)

	filter, err := spam.New(cfg.SpamHistorySize)
	if err != nil {
		slog.Error("spam filter init failed", slog.Any("err", err))
		os.Exit(1)
	}

	engine, err := cycle.New(ctx, store, feed, filter, cfg.EngineOptions())
	if err != nil {
		slog.Error("engine init failed", slog.Any("err", err))
		os.Exit(1)
	}
	bctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	if err := engine.BootstrapCursor(bctx); err != nil {
		slog.Warn("cursor bootstrap failed; first poll will count the visible backlog", slog.Any("err", err))
	}
	cancel()

	st := engine.Status()
	slog.Info("engine ready",
		slog.Time("next_boundary", st.NextBoundary),
		slog.String("commitment", st.Commitment),
		slog.String("feed", cfg.FeedProvider),
		slog.String("store", cfg.StoreBackend))

	wg.Add(2)
	go func() { defer wg.Done(); engine.StartReconciler(ctx, cfg.ReconcileInterval) }()
	go func() { defer wg.Done(); engine.StartPollLoop(ctx, cfg.PollInterval) }()

	if cfg.EnablePprof {
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", cfg.PprofAddr))
			srv := &http.Server{
				Addr:              cfg.PprofAddr,
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

	handlers := server.NewHandlers(engine, store, feed, ping)
	go func() {
		if err := server.Start(ctx, cfg, handlers); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
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
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// openStore returns the configured cycle.Store, a readiness probe and a
// close func.
func openStore(ctx context.Context, cfg *config.Config) (cycle.Store, func(context.Context) error, func(), error) {
	if cfg.StoreBackend == config.StoreMemory {
		slog.Warn("using in-memory store; leaderboard and draws are lost on restart")
		return memstore.New(), nil, func() {}, nil
	}

	database, err := db.Connect(cfg.DBDsn, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}
	if err := migrate(ctx, cfg, database); err != nil {
		closeDB()
		return nil, nil, nil, err
	}

	enc, err := crypto.Optional(cfg.EncryptionKey)
	if err != nil {
		closeDB()
		return nil, nil, nil, fmt.Errorf("encryption key: %w", err)
	}
	return db.NewStore(database, enc), database.PingContext, closeDB, nil
}

// migrate runs the versioned migrations and falls back to the embedded
// schema when they fail.
func migrate(ctx context.Context, cfg *config.Config, database *sql.DB) error {
	if cfg.MigrateMode == "embedded" {
		return db.Migrate(ctx, database)
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			return fmt.Errorf("migrate db (both versioned and embedded SQL failed): %w", err)
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
		return nil
	}
	slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	return nil
}

// openFeed builds the configured chat feed. The Twitch feed starts a watcher
// goroutine tracked by wg.
func openFeed(ctx context.Context, cfg *config.Config, wg *sync.WaitGroup) cycle.Feed {
	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	if cfg.FeedProvider == config.FeedKick {
		return &kick.Client{
			BaseURL:    cfg.KickBaseURL,
			ChannelID:  cfg.KickChannelID,
			Slug:       cfg.KickChannelSlug,
			HTTPClient: httpClient,
		}
	}

	buf := chat.NewBuffer(cfg.TwitchBufferSize)
	tokens := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret, HTTPClient: httpClient}
	watcher := &chat.Watcher{
		Buffer:   buf,
		Checker:  &twitchapi.HelixClient{AppTokenSource: tokens, ClientID: cfg.TwitchClientID, HTTPClient: httpClient},
		Channel:  cfg.TwitchChannel,
		Interval: cfg.TwitchLivePoll,
		Record: func(rctx context.Context) error {
			return buf.Record(rctx, chat.IRCConfig{
				Channel:    cfg.TwitchChannel,
				Username:   cfg.TwitchBotUsername,
				OAuthToken: cfg.TwitchOAuthToken,
			})
		},
	}
	wg.Add(1)
	go func() { defer wg.Done(); watcher.Run(ctx) }()
	return buf
}
