package main

import (
	"context"
	"fmt"
	"os"

	"gatekeeper/internal/bootstrap"
	"gatekeeper/internal/config"
	"gatekeeper/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)

	a := &cli{
		cfg: cfg,
		out: os.Stdout,
		open: func(ctx context.Context) (*bootstrap.Runtime, error) {
			return bootstrap.Open(ctx, cfg, log)
		},
		logger: log,
	}
	defer a.close()

	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.close()
		os.Exit(1)
	}
}
