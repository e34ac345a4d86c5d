package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/internal/bootstrap"
	"gatekeeper/internal/config"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/orchestrator/expiry"
	"gatekeeper/internal/orchestrator/lifecycle"
	"gatekeeper/internal/pgmq"

	"github.com/joho/godotenv"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "", "Orchestrator mode: lifecycle|expiry")
	flag.Parse()

	// Load environment variables
	envErr := godotenv.Load()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("", "")
		l.Fatal().Msgf("Error loading config: %v", err)
	}
	logger := logger.New(cfg.Environment, cfg.LogLevel)
	if envErr != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize runtime: %v", err)
	}
	defer rt.Close()

	// Dispatch to the selected orchestrator
	var runErr error
	switch *mode {
	case "lifecycle":
		if rt.SQL == nil {
			logger.Fatal().Msg("lifecycle orchestrator requires the postgres store")
		}
		pgmqClient := pgmq.New(rt.SQL)
		if err := pgmqClient.Create(ctx, cfg.LifecycleQueueName); err != nil {
			logger.Fatal().Msgf("Failed to create lifecycle queue: %v", err)
		}
		logger.Info().Msg("PGMQ client initialized")
		runErr = lifecycle.Run(ctx, logger, pgmqClient, rt.Engine, rt.DLQ, lifecycle.OptionsFromConfig(cfg))
	case "expiry":
		interval := time.Duration(cfg.ExpirySweepIntervalSec) * time.Second
		runErr = expiry.Run(ctx, logger, rt.Engine.Reconciler, interval)
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		logger.Fatal().Msgf("%s orchestrator failed: %v", *mode, runErr)
	}

	logger.Info().Msgf("%s orchestrator stopped gracefully", *mode)
}
