// Package main is the entry point for the infergate gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/infergate/infergate"
	"github.com/infergate/infergate/internal/api"
	"github.com/infergate/infergate/internal/audit"
	"github.com/infergate/infergate/internal/config"
	"github.com/infergate/infergate/internal/healthcheck"
	"github.com/infergate/infergate/internal/observability"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("infergate", infergate.Version)
		return
	}

	// Bootstrap logger until the configured one takes over.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfgManager, err := config.NewManager(*configPath, logger)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger = observability.FromSettings(cfg.Logging.Level, cfg.Logging.Format, os.Stdout, observability.NewRedactor()).Slog()
	slog.SetDefault(logger)
	logger.Info("starting infergate gateway", "version", infergate.Version, "config", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secrets, err := buildSecretManager(cfg)
	if err != nil {
		logger.Error("failed to initialize secret resolvers", "error", err)
		os.Exit(1)
	}
	defer func() { _ = secrets.Close() }()

	// The ledger connection outlives individual clients so reloads keep
	// appending to the same shared statistics.
	var ledgerRedis redis.UniversalClient
	if cfg.Routing.Ledger.Backend == "redis" {
		ledgerRedis, err = openLedgerRedis(ctx, cfg, secrets)
		if err != nil {
			logger.Error("failed to connect to ledger redis", "error", err)
			os.Exit(1)
		}
		defer func() { _ = ledgerRedis.Close() }()
		logger.Info("shared performance ledger enabled", "addr", cfg.Routing.Ledger.Redis.Addr)
	}

	client, err := buildClient(ctx, cfg, secrets, ledgerRedis, logger)
	if err != nil {
		logger.Error("failed to build routing client", "error", err)
		os.Exit(1)
	}

	swapper := api.NewClientSwapper(client)
	defer swapper.Close()

	reloader := newClientReloader(logger, swapper, func(next *config.Config) (*infergate.Client, error) {
		return buildClient(ctx, next, secrets, ledgerRedis, logger)
	})
	cfgManager.OnChange(reloader.Reload)

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	store, stopStoreJobs, err := buildAuditStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize audit store", "error", err)
		os.Exit(1)
	}
	if stopStoreJobs != nil {
		defer stopStoreJobs()
	}
	recorder := audit.NewRecorder(store, cfg.Audit.Enabled)

	archiver, err := buildArchiver(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize decision archive", "error", err)
		os.Exit(1)
	}

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	var tracer trace.Tracer
	if cfg.Tracing.Enabled {
		tracer = tp.Tracer()
	}

	admin, err := buildAdminAuth(ctx, cfg, secrets)
	if err != nil {
		logger.Error("failed to initialize admin auth", "error", err)
		os.Exit(1)
	}

	gateway := api.NewHandler(&api.HandlerConfig{
		Swapper:  swapper,
		Recorder: recorder,
		Archiver: archiver,
		Tracer:   tracer,
		Logger:   logger,
	})
	control := api.NewControlHandler(swapper, cfgManager, logger)
	auditAPI := api.NewAuditHandler(store)

	mux, err := buildMux(cfg, gateway, control, auditAPI, admin)
	if err != nil {
		logger.Error("failed to build routes", "error", err)
		os.Exit(1)
	}

	middleware, stopMiddleware, err := buildMiddlewareStack(cfg, logger)
	if err != nil {
		logger.Error("failed to build middleware", "error", err)
		os.Exit(1)
	}
	defer stopMiddleware()

	warmer := healthcheck.NewWarmer(healthcheck.Config{
		Enabled:  true,
		Interval: cfg.Routing.AvailabilityTTL,
	}, swapperClientSource{swapper: swapper}, logger)
	warmer.Start(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if archiver != nil {
		if err := archiver.Shutdown(shutdownCtx); err != nil {
			logger.Error("decision archive flush error", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	_ = cfgManager.Close()
	logger.Info("server stopped")
}
