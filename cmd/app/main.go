package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/internal/api/v1/router"
	"gatekeeper/internal/archive"
	"gatekeeper/internal/bootstrap"
	"gatekeeper/internal/config"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/middleware"
	"gatekeeper/internal/pgmq"
	"gatekeeper/internal/service"

	"github.com/joho/godotenv"
)

// @title Gatekeeper API
// @version 1.0
// @description Entitlement gates, included-usage quotas and the credit ledger
// @host localhost:8080
// @BasePath /v1
// @Schemes http https

func main() {
	// 1. Load configuration
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := logger.New("", "")
		l.Fatal().Msgf("Error loading config: %v", err)
	}
	logger := logger.New(cfg.Environment, cfg.LogLevel)
	if envErr != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	ctx := context.Background()
	if err := bootstrap.LoadSecrets(ctx, cfg, logger); err != nil {
		logger.Fatal().Msgf("Failed to load secrets: %v", err)
	}

	// 2. Open store, cache and engine
	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize runtime: %v", err)
	}
	defer rt.Close()

	var opts []service.StripeOption
	if cfg.ArchiveS3Bucket != "" {
		client, err := archive.NewS3Client(ctx, cfg)
		if err != nil {
			logger.Fatal().Msgf("Failed to create S3 client: %v", err)
		}
		opts = append(opts, service.WithEventArchiver(archive.NewS3Archiver(client, cfg.ArchiveS3Bucket)))
		logger.Info().Str("bucket", cfg.ArchiveS3Bucket).Msg("Archiving raw webhook payloads")
	}
	if cfg.LifecycleAsync {
		if rt.SQL == nil {
			logger.Fatal().Msg("LIFECYCLE_ASYNC requires the postgres store")
		}
		client := pgmq.New(rt.SQL)
		if err := client.Create(ctx, cfg.LifecycleQueueName); err != nil {
			logger.Fatal().Msgf("Failed to create lifecycle queue: %v", err)
		}
		opts = append(opts, service.WithEventQueue(pgmq.NewLifecycleQueue(client, cfg.LifecycleQueueName)))
		logger.Info().Str("queue", cfg.LifecycleQueueName).Msg("Deferring webhook events to the lifecycle worker")
	}
	stripeService := service.NewStripeService(cfg, rt.Store, rt.Engine.Reconciler, logger, opts...)

	// 3. Build router
	r := router.New(cfg, router.Deps{
		Engine: rt.Engine,
		Stripe: stripeService,
		Auth:   middleware.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTPublicKey),
		DLQ:    rt.DLQ,
		Ready:  rt.Ready,
	}, logger)

	// 4. Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 5. Start server in a goroutine
	go func() {
		logger.Info().Msgf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Msgf("Listen: %s\n", err)
		}
	}()

	// 6. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutdown signal received, exiting...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Msgf("Server forced to shutdown: %v", err)
		return
	}
	logger.Info().Msg("Server shut down gracefully")
}
