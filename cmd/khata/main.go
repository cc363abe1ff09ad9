package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"khata/internal/auth"
	"khata/internal/config"
	"khata/internal/events"
	apphttp "khata/internal/http"
	"khata/internal/live"
	"khata/internal/log"
	"khata/internal/media"
	"khata/internal/prefs"
	"khata/internal/services"
	"khata/internal/store"
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

	if err := store.EnsureIndexes(ctx, client.Database(cfg.MongoDatabase)); err != nil {
		logger.Error("Failed to ensure indexes", "error", err)
		os.Exit(1)
	}
	repo := store.NewRepository(client, cfg.MongoDatabase, logger)

	prefStore, err := prefs.NewStore(cfg.PrefsDBPath)
	if err != nil {
		logger.Error("Failed to open preferences store", "error", err, "path", cfg.PrefsDBPath)
		os.Exit(1)
	}
	defer prefStore.Close()

	hub := live.NewHub()

	// The AMQP broker is optional. Without it the hub still refreshes
	// in-process subscribers; only cross-instance fanout and the
	// alerts worker go dark.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to connect to AMQP broker", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
		logger.Info("Change event publishing enabled", "exchange", cfg.AMQPExchange)

		// A per-instance queue receives events published by other
		// instances and refreshes this hub.
		hostname, _ := os.Hostname()
		hubQueue := fmt.Sprintf("%s-hub-%s", cfg.AMQPQueue, hostname)
		go func() {
			err := events.ConsumeWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, hubQueue, func(e *events.ChangeEvent) error {
				hub.Notify(ctx, live.Key{UID: e.UID, Profile: e.Profile, Collection: e.Collection})
				return nil
			})
			if err != nil && err != context.Canceled {
				logger.Error("Hub event consumer stopped", "error", err)
			}
		}()
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.AccessTokenTTL)
	authSvc := auth.NewService(repo, tokens, cfg.GoogleClientID, logger)
	uploader := media.NewUploader(cfg.CloudinaryCloudName, cfg.CloudinaryPreset)
	txSvc := services.NewTransactionService(repo, uploader, hub, publisher, logger)
	catSvc := services.NewCategoryService(repo, hub, publisher, logger)
	colSvc := services.NewCollaboratorService(repo, logger)

	srv := apphttp.NewServer(":"+cfg.Port, authSvc, txSvc, catSvc, colSvc, prefStore, hub, logger)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 120 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting khata server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
