package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime-chat/backend/pkg/config"
	"realtime-chat/backend/pkg/di"
	"realtime-chat/backend/pkg/logger"
	"realtime-chat/backend/pkg/observability"
	"realtime-chat/backend/pkg/router"
	"realtime-chat/backend/pkg/secrets"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Loads .env if present
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", cfg.Server.Version, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secretManager, err := secrets.NewManager(secrets.VaultConfigFromEnv(), log)
	if err != nil {
		log.LogError(err, "Failed to initialize secret manager")
		os.Exit(1)
	}
	if err := secrets.Apply(ctx, secretManager, cfg, log); err != nil {
		log.LogError(err, "Failed to load secrets")
		os.Exit(1)
	}

	shutdownTracing, err := observability.SetupTracing(cfg.Observability.ServiceName, cfg.Observability.TracingEnabled)
	if err != nil {
		log.LogError(err, "Failed to initialize tracing")
		os.Exit(1)
	}
	meterProvider, metricsHandler, err := observability.SetupMetrics(cfg.Observability.ServiceName, prometheus.NewRegistry())
	if err != nil {
		log.LogError(err, "Failed to initialize metrics")
		os.Exit(1)
	}

	db, err := config.NewDB(cfg)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	container, err := di.New(db, cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	go container.Hub.Run(ctx)
	container.Health.Start(ctx)

	r := router.New(container, metricsHandler)
	r.SetupRoutes(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if err := container.Close(); err != nil {
		log.LogError(err, "Failed to release resources")
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush metrics")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush traces")
	}

	log.Info("Server exited gracefully")
}
