package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/algomatic/backtest-service/internal/config"
	"github.com/algomatic/backtest-service/internal/db"
	"github.com/algomatic/backtest-service/pkg/api"
	"github.com/algomatic/backtest-service/pkg/backtest"
	"github.com/algomatic/backtest-service/pkg/history"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log.Level)
	logger.Info("Starting backtest-service",
		"version", version,
		"addr", cfg.Server.Addr(),
		"data_source", cfg.Data.Source,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, cleanup, err := buildProvider(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to build history provider", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	runner := backtest.NewRunner(provider, logger)
	server := api.NewServer(runner, provider, version, logger)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("Backtest service running", "pid", os.Getpid())

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("Backtest service shutdown complete")
}

// buildProvider wires the configured data source, optionally wrapped in the
// Redis read-through cache. The returned cleanup closes everything the
// provider owns.
func buildProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (history.Provider, func(), error) {
	var provider history.Provider
	cleanup := func() {}

	switch cfg.Data.Source {
	case "postgres":
		pool, err := db.NewPool(
			ctx,
			cfg.Database.ConnString(),
			cfg.Database.MaxConns,
			cfg.Database.MinConns,
			logger,
		)
		if err != nil {
			return nil, nil, err
		}
		provider = history.NewPostgresProvider(pool, logger)
		cleanup = pool.Close
	default:
		provider = history.NewCSVProvider(cfg.Data.CSVDir, logger)
	}

	if cfg.Redis.Addr != "" {
		cache := history.NewCache(
			provider,
			cfg.Redis.Addr,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
			logger,
		)
		if err := cache.HealthCheck(ctx); err != nil {
			logger.Warn("Redis unreachable at startup, cache will degrade to pass-through", "error", err)
		}
		inner := cleanup
		cleanup = func() {
			if err := cache.Close(); err != nil {
				logger.Warn("Closing redis client failed", "error", err)
			}
			inner()
		}
		provider = cache
	}

	return provider, cleanup, nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var writer io.Writer = os.Stdout

	return slog.New(slog.NewJSONHandler(writer, opts))
}
