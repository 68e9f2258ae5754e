package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filedrop/internal/server/api"
	"filedrop/internal/server/auth"
	"filedrop/internal/server/config"
	"filedrop/internal/server/database"
	"filedrop/internal/server/service"
	"filedrop/internal/server/storage"

	"github.com/dustin/go-humanize"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config; refuses to start without a usable base path
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	maxFileSize := "unlimited"
	if cfg.MaxFileSize > 0 {
		maxFileSize = humanize.IBytes(uint64(cfg.MaxFileSize))
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"base_path", cfg.BasePath,
		"max_file_size", maxFileSize,
		"cleanup_interval", cfg.CleanupInterval,
	)

	// Connect to database; migrations run on open
	ctx := context.Background()
	store, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("database ready")

	// Services
	files := storage.NewFileSystemStore()
	links := service.NewLinkService(store, files, cfg.BasePath, cfg.BaseURL)
	uploads := service.NewUploadService(store, files, service.NewRecorder(store), cfg.BasePath, cfg.MaxFileSize)
	users, err := service.NewUserService(store)
	if err != nil {
		slog.Error("failed to initialize users", "error", err)
		os.Exit(1)
	}

	if err := users.Bootstrap(ctx, cfg.Users); err != nil {
		slog.Error("failed to bootstrap users", "error", err)
		os.Exit(1)
	}

	sessions, err := auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL, cfg.SecureCookies)
	if err != nil {
		slog.Error("failed to initialize sessions", "error", err)
		os.Exit(1)
	}

	// Start cleanup service
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanup *service.CleanupService
	if cfg.CleanupInterval > 0 {
		cleanup = service.NewCleanupService(links, cfg.CleanupInterval)
		cleanup.Start(cleanupCtx)
	}

	// Setup HTTP router
	handler := api.NewHandler(links, uploads, users, sessions, store, cfg.MaxRequestSize)
	e, limiter := api.SetupRouter(handler, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	limiter.Stop()

	// Stop cleanup service
	cleanupCancel()
	if cleanup != nil {
		cleanup.Wait()
	}

	slog.Info("server exited cleanly")
}
