// Package main runs the indexing service: the endpoint the dispatcher
// submits to and the single-file process API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/confrag/internal/config"
	"github.com/bull/confrag/internal/processor"
	"github.com/bull/confrag/internal/service"
)

func main() {
	configPath := flag.String("config", "confrag.yaml", "path to the YAML config file")
	workers := flag.Int("workers", getEnvInt("PROCESSOR_WORKERS", 2), "concurrent indexing jobs")
	queueSize := flag.Int("queue", getEnvInt("PROCESSOR_QUEUE_SIZE", 64), "pending job capacity")
	flag.Parse()

	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	svc, err := service.New(ctx, cfg, service.Options{Logger: logger})
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer svc.Close()

	srv := processor.New(svc.Pipeline(), processor.Options{
		Workers:   *workers,
		QueueSize: *queueSize,
		Logger:    logger,
	})
	srv.Start(ctx)

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown incomplete", "error", err)
		}
	}()

	logger.Info("processor listening", "addr", httpServer.Addr, "workers", *workers, "queue", *queueSize)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
	srv.Stop()
	logger.Info("processor stopped")
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
