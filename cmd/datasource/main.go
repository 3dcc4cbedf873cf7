package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mxschmitt/pg-datasource/internal/api"
	"github.com/mxschmitt/pg-datasource/internal/config"
	"github.com/mxschmitt/pg-datasource/internal/datasource"
	"github.com/mxschmitt/pg-datasource/internal/dsn"
	"github.com/mxschmitt/pg-datasource/internal/service"
	"go.uber.org/zap"
)

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting PostgreSQL Data Source Service")

	// Resolve the data source before anything reads the database settings.
	normalizer := dsn.New(logger.Named("dsn"),
		dsn.WithDriver(cfg.Driver),
		dsn.WithTimeouts(cfg.ConnectTimeout, cfg.SocketTimeout))
	ds, err := datasource.Resolve(cfg.Properties(), normalizer, logger)
	if err != nil {
		logger.Fatal("Failed to resolve data source", zap.Error(err))
	}

	// Initialize service
	ctx := context.Background()
	svc, err := service.New(ctx, cfg, ds, logger)
	if err != nil {
		logger.Fatal("Failed to initialize service", zap.Error(err))
	}

	// Create and start API server
	apiServer := api.New(cfg, svc, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	logger.Info("Service started successfully")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down service", zap.Error(err))
	}
}
