package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echohub/internal/config"
	"echohub/internal/microservices/http-api/handler"
	"echohub/internal/microservices/http-api/middleware"
	"echohub/internal/microservices/tcp"
	"echohub/internal/shared"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load config (fallback to env/default)
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup structured logging
	logger := shared.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	mode, err := tcp.ParseMode(cfg.EchoMode)
	if err != nil {
		log.Fatalf("Invalid ECHO_MODE: %v", err)
	}

	repo, backend, err := tcp.OpenSessionRepository(tcp.StorageConfig{
		RedisURL:      cfg.RedisURL,
		RedisPassword: cfg.RedisPassword,
		DatabaseURL:   cfg.DatabaseURL,
		SessionTTL:    cfg.SessionTTL,
		Logger:        logger.With("component", "session_storage"),
	})
	if err != nil {
		log.Fatalf("Failed to open session storage: %v", err)
	}
	logger.Info("session_storage_ready", "backend", backend)

	diag := tcp.NewSlogDiagnostics(logger.With("component", "diagnostics"),
		tcp.WithQueueSize(cfg.DiagQueueSize),
		tcp.WithChunkRate(cfg.DiagRate),
	)

	server := tcp.NewServer(tcp.ServerConfig{
		Mode:      mode,
		Host:      cfg.EchoHost,
		Port:      cfg.EchoPort,
		ChunkSize: cfg.ChunkSize,
		IOTimeout: cfg.IOTimeout,
	},
		tcp.WithLogger(logger),
		tcp.WithSessionRepository(repo),
		tcp.WithDiagnostics(diag),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// bind errors are fatal before anything is served
	if err := server.Listen(ctx); err != nil {
		logger.Error("tcp_server_start_failed", "error", err.Error())
		os.Exit(1)
	}

	var statusSrv *http.Server
	if cfg.StatusPort > 0 {
		if cfg.IsProduction() {
			gin.SetMode(gin.ReleaseMode)
		}
		router := handler.NewRouter(
			handler.NewStatusHandler(server, server.Manager),
			middleware.RequestLogger(logger.With("component", "status_api")),
		)
		statusSrv = &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.StatusPort),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status_api_started", "addr", statusSrv.Addr)
			if err := statusSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status_api_error", "error", err.Error())
			}
		}()
	}

	// Serve blocks until a signal cancels ctx
	if err := server.Serve(ctx); err != nil {
		logger.Error("server_error", "error", err.Error())
	}
	logger.Info("received_shutdown_signal")

	if statusSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status_api_shutdown_failed", "error", err.Error())
		}
		cancel()
	}
	diag.Close()
	if err := server.Manager.Close(); err != nil {
		logger.Warn("session_storage_close_failed", "error", err.Error())
	}
	logger.Info("server_stopped_gracefully")
}
