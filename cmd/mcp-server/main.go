// Package main provides the MCP server entry point for conference materials.
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
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/confrag/internal/config"
	mcpserver "github.com/bull/confrag/internal/mcp"
	"github.com/bull/confrag/internal/service"
	"github.com/bull/confrag/internal/tracker"
)

func main() {
	configPath := flag.String("config", "confrag.yaml", "path to the YAML config file")
	flag.Parse()

	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
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

	// Tasks submitted through dispatch_content resolve in the background.
	if cfg.Indexer.Mode == "http" && cfg.Tracker.PollInterval > 0 {
		worker := tracker.NewWorker(svc.Tracker(), cfg.Tracker.PollInterval, logger)
		worker.Start(ctx)
		defer worker.Stop()
	}

	server := mcpserver.NewServer(&mcpserver.Config{Backend: svc, Logger: logger})
	mux := mcpserver.NewMux(server, svc, nil)

	// Check if running in server mode (HTTP) or stdio mode (local development)
	serverMode := os.Getenv("SERVER_MODE") == "true"
	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if serverMode {
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()

		logger.Info("starting HTTP server", "addr", httpServer.Addr, "mcp", "/mcp", "health", "/health")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
		return
	}

	// Stdio mode also serves /health in the background for local testing.
	go func() {
		logger.Info("starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("health server error", "error", err)
		}
	}()

	logger.Info("starting conference materials MCP server (stdio mode)")
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
