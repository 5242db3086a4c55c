package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/amqp"
	"tally/internal/config"
	"tally/internal/export"
	gsheet "tally/internal/export/google"
	"tally/internal/export/memory"
	"tally/internal/log"
	"tally/internal/storage"
	"tally/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.Config{Component: log.ComponentWorker})
	log.SetDefault(logger)

	logger.Info("Starting tally-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository",
			log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	writer, err := newWriter(cfg)
	if err != nil {
		logger.Error("Failed to initialize export backend",
			log.FieldError, err, "backend", cfg.ExportBackend)
		os.Exit(1)
	}
	logger.Info("Export backend ready", "backend", cfg.ExportBackend)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	syncWorker := worker.NewSyncWorker(repo, writer, cfg.SyncBatchSize)

	// Catch up on anything committed while the worker was down.
	logger.Info("Performing startup sync check...")
	if err := syncWorker.ProcessPending(ctx); err != nil {
		logger.Error("Startup sync check failed", log.FieldError, err)
	}

	go func() {
		err := amqpClient.ConsumeMovementSync(ctx, func(msg *amqp.MovementSyncMessage) error {
			return syncWorker.HandleMessage(ctx, msg)
		})
		if err != nil && err != context.Canceled {
			logger.Error("Message consumption failed", log.FieldError, err)
		}
		cancel()
	}()

	// Periodic sweep for messages lost between commit and publish.
	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := syncWorker.ProcessPending(ctx); err != nil {
					logger.Error("Periodic sync failed", log.FieldError, err)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down worker...")
	cancel()
	time.Sleep(time.Second)
	logger.Info("Worker shutdown complete")
}

func newWriter(cfg *config.Config) (export.RowWriter, error) {
	if cfg.ExportBackend == "google" {
		return gsheet.NewFromEnv(context.Background())
	}
	return memory.New(), nil
}
