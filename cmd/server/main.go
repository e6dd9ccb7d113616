// Command server starts the vodworks ingestion gateway, the streaming
// proxy, and the transcode worker pool in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vodworks/internal/api"
	"vodworks/internal/config"
	"vodworks/internal/images"
	"vodworks/internal/notify"
	"vodworks/internal/objectstore"
	"vodworks/internal/observability/logging"
	"vodworks/internal/observability/metrics"
	"vodworks/internal/queue"
	"vodworks/internal/server"
	"vodworks/internal/transcoder"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	envFile := flag.String("env-file", "", "path to a .env file loaded before configuration")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	loadDotenv(*envFile)

	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.Config{}).Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(*logLevel); v != "" {
		cfg.LogLevel = v
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := objectstore.New(ctx, cfg.Storage, logging.WithComponent(logger, "objectstore"))
	if err != nil {
		logger.Error("object storage unavailable", "error", err)
		os.Exit(1)
	}

	q, err := queue.New(cfg.Queue, logging.WithComponent(logger, "queue"))
	if err != nil {
		logger.Error("queue unavailable", "error", err)
		os.Exit(1)
	}
	defer q.Close()
	if err := q.Ping(ctx); err != nil {
		logger.Error("queue ping failed", "addr", cfg.Queue.Addr, "error", err)
		os.Exit(1)
	}

	encoder := transcoder.New(cfg.Transcode, logging.WithComponent(logger, "transcoder"))
	notifier := notify.New(cfg.Webhooks, logging.WithComponent(logger, "notify"))
	processor := images.NewProcessor(store, notifier, logging.WithComponent(logger, "images"))

	handler := api.NewHandler(store, q, encoder, processor, cfg, logging.WithComponent(logger, "api"))
	srv, err := server.New(handler, server.Config{
		Addr:    cfg.Addr,
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("server initialisation failed", "error", err)
		os.Exit(1)
	}

	worker := queue.NewWorker(q, store, encoder, notifier, recorder, cfg.Queue, cfg.Transcode, logging.WithComponent(logger, "worker"))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil {
			logger.Error("worker pool stopped", "error", err)
		}
	}()

	sweeper := startSweeper(ctx, store, cfg, recorder, logging.WithComponent(logger, "sweeper"))

	errs := make(chan error, 1)
	go func() {
		logger.Info("vodworks listening", "addr", cfg.Addr, "workers", cfg.Queue.Workers)
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errs:
		logger.Error("server error", "error", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	sweeper.Stop()

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker pool did not drain before timeout")
	}
	logger.Info("server stopped")
}

// loadDotenv loads an explicit env file, or .env when one exists beside the
// binary. A missing default file is not an error.
func loadDotenv(path string) {
	if v := strings.TrimSpace(path); v != "" {
		_ = godotenv.Load(v)
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
}
