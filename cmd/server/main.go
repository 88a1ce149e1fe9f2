package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/extractor/internal/config"
	"github.com/JonMunkholm/extractor/internal/core"
	_ "github.com/JonMunkholm/extractor/internal/core/formats" // Register all formats
	"github.com/JonMunkholm/extractor/internal/logging"
	"github.com/JonMunkholm/extractor/internal/staging"
	"github.com/JonMunkholm/extractor/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"storage_backend", cfg.Storage.Backend,
		"extraction_max_concurrent", cfg.Extraction.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	opts := staging.Options{
		Backend: cfg.Storage.Backend,
		Pool: staging.PoolConfig{
			URL:             cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		},
		Schema:     cfg.Storage.Schema,
		SQLitePath: cfg.Storage.SQLitePath,
		Prefix:     cfg.Storage.Prefix,
	}
	if cfg.Storage.FixturePath != "" {
		opts.Fixture, err = staging.LoadFixture(cfg.Storage.FixturePath)
		if err != nil {
			slog.Error("failed to load fixture", "path", cfg.Storage.FixturePath, "error", err)
			os.Exit(1)
		}
	}

	store, closeStore, err := staging.Open(ctx, opts)
	if err != nil {
		slog.Error("failed to open staging storage", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if pg, ok := store.(*staging.PostgresStore); ok {
		if u, err := url.Parse(cfg.Database.URL); err == nil {
			slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"), "schema", cfg.Storage.Schema)
		}
		if cfg.Storage.DropOrphans {
			n, err := pg.DropOrphans(ctx)
			if err != nil {
				slog.Warn("failed to drop orphaned staging tables", "error", err)
			} else if n > 0 {
				slog.Info("dropped orphaned staging tables", "count", n)
			}
		}
	}

	service := core.NewService(store, store, core.ServiceConfig{
		MaxConcurrent:    cfg.Extraction.MaxConcurrent,
		MaxWaitTime:      cfg.Extraction.MaxWaitTime,
		Timeout:          cfg.Extraction.Timeout,
		FailureRetention: cfg.Extraction.FailureRetention,
	}, core.WithLogger(logger))

	slog.Info("formats registered", "count", core.DefaultRegistry().FormatCount())
	for _, spec := range service.ListFormats() {
		slog.Debug("format", "code", spec.Code, "version", spec.Version, "sheets", len(spec.Sheets))
	}

	server := web.NewServer(service, cfg)

	jobCtx, cancelJobs := context.WithCancel(context.Background())

	go service.StartSweeper(jobCtx, core.SweepConfig{
		IdleTimeout: cfg.Extraction.IdleTimeout,
		Interval:    cfg.Extraction.SweepInterval,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for extractions to complete", "active", status.Active)
			if err := service.WaitForExtractions(shutdownCtx); err != nil {
				slog.Warn("extractions did not complete in time", "error", err)
			}
		}

		if n := service.ReleaseAll(shutdownCtx); n > 0 {
			slog.Info("released extraction runs", "count", n)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
