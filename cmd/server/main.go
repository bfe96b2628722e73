package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openagentlabs/signal-manager/internal/auth"
	"github.com/openagentlabs/signal-manager/internal/config"
	"github.com/openagentlabs/signal-manager/internal/database"
	"github.com/openagentlabs/signal-manager/internal/events"
	"github.com/openagentlabs/signal-manager/internal/middleware"
	"github.com/openagentlabs/signal-manager/internal/registrar"
	"github.com/openagentlabs/signal-manager/internal/room"
	"github.com/openagentlabs/signal-manager/internal/server"
	"github.com/openagentlabs/signal-manager/internal/session"
	"github.com/openagentlabs/signal-manager/internal/sfu"
	"github.com/openagentlabs/signal-manager/internal/storage"
	"github.com/openagentlabs/signal-manager/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration (default: app-config.toml, config.toml, built-ins)")
	flag.Parse()

	// Load configuration first so the log level is honoured from the start
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	// Create context for initialization
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Durable state backend
	var db *database.DB
	var repos *database.Repositories
	switch cfg.Database.Backend {
	case "postgres":
		db, err = database.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			slog.Error("failed to ensure database schema", "error", err)
			os.Exit(1)
		}
		repos = database.NewPostgresRepositories(db)
		slog.Info("connected to database")
	default:
		repos = database.NewMemoryRepositories()
		slog.Warn("using in-memory repositories - durable state is lost on restart")
	}

	// Event bus
	var bus events.Bus
	if cfg.Events.Backend == "redis" {
		bus, err = events.NewRedisBus(cfg.Events.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
	} else {
		bus = events.NewMemoryBus()
	}
	defer bus.Close()

	// Credential store
	method, err := auth.ParseMethod(cfg.Auth.AuthMethod)
	if err != nil {
		slog.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}
	store, err := auth.NewStore(method, cfg.Auth.APIKeys, logger)
	if err != nil {
		slog.Error("failed to build credential store", "error", err)
		os.Exit(1)
	}
	if store.Len() == 0 {
		slog.Warn("no credentials configured - all CONNECT attempts will fail")
	}

	// SFU client
	sfuClient := sfu.NewCloudflareClient(
		cfg.SFU.AppID, cfg.SFU.AppSecret, cfg.SFU.BaseURL,
		time.Duration(cfg.SFU.RequestTimeout)*time.Second, logger,
	)
	if cfg.SFU.AppID != "" {
		if ok, err := sfuClient.ValidateCredentials(ctx); err != nil {
			slog.Warn("could not validate SFU credentials", "error", err)
		} else if !ok {
			slog.Warn("SFU rejected the configured credentials")
		}
	}

	// Optional terminated-room snapshot export
	var archiver room.Archiver
	if cfg.ArchiveEnabled() {
		exporter, err := storage.NewArchiveExporter(
			cfg.Archive.AccountID, cfg.Archive.AccessKeyID,
			cfg.Archive.SecretAccessKey, cfg.Archive.Bucket,
		)
		if err != nil {
			slog.Error("failed to initialize archive exporter", "error", err)
			os.Exit(1)
		}
		archiver = exporter
		slog.Info("archive export enabled", "bucket", cfg.Archive.Bucket)
	}

	// Core subsystems
	registry := session.NewRegistry(store, bus, cfg.Session.ChannelCapacity, logger)
	reg := registrar.New(repos.Clients, bus, logger)
	orch := room.New(sfuClient, repos, bus, archiver, cfg.SFU.AppID, cfg.SFU.StunURL, logger)

	var limiter *middleware.RateLimiter
	if cfg.Security.RateLimitEnabled {
		limiter = middleware.NewRateLimiter(cfg.Security.MaxMessagesPerMinute)
	}
	var conns *middleware.ConnLimiter
	if cfg.Security.MaxConnectionsPerIP > 0 || cfg.Server.MaxConnections > 0 {
		conns = middleware.NewConnLimiter(cfg.Security.MaxConnectionsPerIP, cfg.Server.MaxConnections)
	}

	hub := websocket.NewHub(registry, reg, orch, limiter, cfg.Server.MaxMessageSize, logger)
	wsHandler := websocket.NewHandler(hub,
		cfg.Server.ReadBufferSize, cfg.Server.WriteBufferSize,
		cfg.Security.AllowedOrigins, conns, logger)
	if cfg.Server.HeartbeatInterval > 0 {
		wsHandler.SetPingInterval(time.Duration(cfg.Server.HeartbeatInterval) * time.Second)
	}

	srv := server.New(cfg, &server.Dependencies{
		DB:        db,
		WSHandler: wsHandler,
		Logger:    logger,
	})

	// Graceful shutdown setup
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session expiry sweeper
	go registry.RunSweeper(shutdownCtx,
		time.Duration(cfg.Session.CleanupInterval)*time.Second,
		time.Duration(cfg.Session.SessionTimeout)*time.Second)

	go func() {
		slog.Info("starting server", "addr", cfg.Addr(), "tls", cfg.Server.TLSEnabled)
		if err := server.Serve(srv, cfg); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-shutdownCtx.Done()
	slog.Info("shutting down gracefully...")

	// Give active connections 10 seconds to finish
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
