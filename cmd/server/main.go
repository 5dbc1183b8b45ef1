// Command server runs the invitation and interview-confirmation API as a
// long-lived HTTP server (the serverless entrypoint lives in api/).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hyrepro-admin/pkg/config"
	"hyrepro-admin/pkg/database"
	"hyrepro-admin/pkg/logging"
	"hyrepro-admin/pkg/router"
	"hyrepro-admin/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.New(nil).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	// 常驻进程持有单个连接，不走 Serverless 连接池的过期重建
	backend, err := database.NewDatabase(ctx, database.ConfigFrom(cfg), logger)
	if err != nil {
		logger.Error("failed to open backend", "error", err)
		os.Exit(1)
	}
	db := database.NewTracedDatabase(backend)
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close backend", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(ctx, cfg, db, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("hyrepro api listening", "addr", server.Addr, "backend", database.BackendKind(db), "environment", cfg.Environment)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}
