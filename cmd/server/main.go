package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/zynqcloud/capdocs/internal/config"
	"github.com/zynqcloud/capdocs/internal/httpapi"
	"github.com/zynqcloud/capdocs/internal/reaper"
	"github.com/zynqcloud/capdocs/internal/store"
	"github.com/zynqcloud/capdocs/internal/webhook"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("CAPDOCS_CONFIG_FILE"))
	if err != nil {
		logger.Error().Err(err).Msg("configuration error")
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create data directory")
		os.Exit(1)
	}
	dbPath := filepath.Join(cfg.DataDir, "capdocs.db")
	s, err := store.Open(dbPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open storage backend")
		os.Exit(1)
	}
	defer s.Close()

	// Root context — cancelled when a shutdown signal arrives.
	// All long-running background goroutines receive this context so they
	// stop cleanly without needing their own signal wiring.
	ctx, cancel := context.WithCancel(context.Background())

	// Reaper goroutine purges soft-deleted files once their retention window
	// has lapsed. A delete call only stamps deleteExpiresAt; without this
	// sweep a deleted document would remain recoverable forever.
	reaperDone := reaper.RunPeriodic(ctx, s, cfg.ReaperInterval, logger)

	// Webhook dispatcher runs delivery outside the request path (§5, §9): a
	// mutating request enqueues and returns immediately, the worker pool
	// drains the queue with signed HMAC deliveries and backoff retry.
	dispatcher := webhook.NewDispatcher(s, logger, cfg.WebhookQueueDepth)
	dispatcherDone := dispatcher.Start(ctx, cfg.WebhookWorkers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.New(cfg, s, dispatcher, logger),
		// ReadHeaderTimeout closes Slowloris: a client that never finishes
		// sending headers holds a goroutine until this fires.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("dataDir", cfg.DataDir).
			Int("webhookWorkers", cfg.WebhookWorkers).
			Msg("capdocs starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	// shutdownSignals is defined in signals.go (os.Interrupt) and extended by
	// signals_unix.go (+ SIGTERM) via build tags — no OS-specific imports here.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, shutdownSignals...)
	<-quit

	logger.Info().Msg("shutdown signal received — draining connections")

	// Cancel the root context first so background goroutines (reaper,
	// dispatcher) stop accepting new work before the HTTP server drains.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	<-reaperDone
	<-dispatcherDone

	logger.Info().Msg("capdocs stopped")
}
