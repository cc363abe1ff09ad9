package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"khata/internal/config"
	"khata/internal/email"
	"khata/internal/events"
	"khata/internal/log"
	"khata/internal/prefs"
	"khata/internal/store"
	"khata/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the alerts worker")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	client, err := store.Connect(connectCtx, cfg.MongoURI)
	connectCancel()
	if err != nil {
		logger.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()
	repo := store.NewRepository(client, cfg.MongoDatabase, logger)

	prefStore, err := prefs.NewStore(cfg.PrefsDBPath)
	if err != nil {
		logger.Error("Failed to open preferences store", "error", err, "path", cfg.PrefsDBPath)
		os.Exit(1)
	}
	defer prefStore.Close()

	sender := email.NewSender(cfg.EmailAPIKey, cfg.EmailBaseURL, cfg.EmailFrom)
	if !sender.Enabled() {
		logger.Warn("EMAIL_API_KEY not set - alerts will be evaluated but not sent")
	}

	alerts := worker.NewAlerts(repo, prefStore, sender, time.UTC, logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	logger.Info("Starting alerts worker", "queue", cfg.AMQPQueue, "exchange", cfg.AMQPExchange)
	err = events.ConsumeWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, func(e *events.ChangeEvent) error {
		return alerts.Handle(ctx, e)
	})
	if err != nil && err != context.Canceled {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
