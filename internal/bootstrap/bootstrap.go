// Package bootstrap builds the long-lived handles shared by the API server,
// the workers and the admin CLI.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gatekeeper/internal/cache"
	"gatekeeper/internal/config"
	"gatekeeper/internal/pubsub"
	"gatekeeper/internal/repository"
	"gatekeeper/internal/repository/memstore"
	"gatekeeper/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Runtime owns every connection opened for one process.
type Runtime struct {
	Config *config.Config
	Store  *repository.Store
	Engine *service.BillingEngine
	// Pool is nil for the memory driver.
	Pool *pgxpool.Pool
	// SQL is a database/sql handle on the same database, used by pgmq and the
	// dead-letter table. Nil for the memory driver.
	SQL *sql.DB
	// DLQ is nil when there is no database to store dead letters in.
	DLQ   service.DLQService
	Redis redis.UniversalClient

	closers []func() error
	logger  zerolog.Logger
}

// Open connects the store, the capability cache and the entitlement notifier,
// then assembles the billing engine.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, logger: logger}
	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	caps := service.NewCapabilityService(rt.Store, logger)
	var c cache.Cache = cache.NewMemory(caps)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		rt.Redis = client
		rt.closers = append(rt.closers, client.Close)
		c = cache.NewRedis(client, caps, cfg.CachePrefix, logger)
		logger.Info().Str("addr", opts.Addr).Msg("Capability cache backed by Redis")
	}

	var notifier service.Notifier
	if cfg.GetGCPProjectID() != "" && cfg.EntitlementsTopic != "" {
		pub, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pub.Close)
		notifier = pubsub.NewEntitlementsNotifier(pub, cfg.EntitlementsTopic)
		logger.Info().Str("topic", cfg.EntitlementsTopic).Msg("Publishing entitlement changes")
	}

	rt.Engine = service.NewBillingEngine(rt.Store, c, notifier, cfg.GateTimeout(), logger)
	if rt.SQL != nil {
		rt.DLQ = service.NewDLQService(repository.NewDLQRepository(rt.SQL), logger)
	}
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) error {
	cfg := rt.Config
	switch cfg.StoreDriver {
	case DriverMemory:
		rt.Store = memstore.New().Store()
		rt.logger.Warn().Msg("Using in-memory store, data is lost on exit")
		return nil
	case DriverPostgres, "":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.DBConnectionString == "" {
		return errors.New("DB_CONNECTION_STRING is required for the postgres store")
	}
	pool, err := pgxpool.New(ctx, cfg.DBConnectionString)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	rt.Pool = pool
	rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping DB: %w", err)
	}
	rt.logger.Info().Msg("Database connection established")

	if cfg.MigrateOnStart {
		if err := repository.Migrate(ctx, pool); err != nil {
			return err
		}
		rt.logger.Info().Msg("Database migrations applied")
	}

	db, err := sql.Open("postgres", cfg.DBConnectionString)
	if err != nil {
		return fmt.Errorf("failed to open DB connection: %w", err)
	}
	rt.SQL = db
	rt.closers = append(rt.closers, db.Close)

	rt.Store = repository.NewPostgresStore(pool)
	return nil
}

// Ready pings every backing service.
func (rt *Runtime) Ready(ctx context.Context) error {
	if rt.Pool != nil {
		if err := rt.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn().Err(err).Msg("Error closing resource")
		}
	}
	rt.closers = nil
}

// LoadSecrets fills missing Stripe credentials from Secret Manager when a
// project is configured.
func LoadSecrets(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.SecretManagerProject == "" {
		return nil
	}
	if cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret != "" {
		return nil
	}
	secrets, err := service.NewSecretManagerService(ctx, cfg)
	if err != nil {
		return err
	}
	defer secrets.Close()
	return service.ResolveStripeSecrets(ctx, cfg, secrets, logger)
}
