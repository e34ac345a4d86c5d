package repository

import (
	"context"
	"errors"
	"fmt"

	"gatekeeper/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles every repository the engine needs. The Postgres and in-memory
// implementations both honor the same atomicity contracts.
type Store struct {
	Products      ProductRepository
	Passes        PassRepository
	Subscriptions SubscriptionRepository
	Usage         UsageRepository
	Ledger        LedgerRepository
	Events        EventRepository
	Purchases     PurchaseRepository
	Customers     CustomerRepository
	Listings      ListingCounter
	Rfqs          RfqCounter
}

// NewPostgresStore wires every repository to the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Products:      NewProductRepo(pool),
		Passes:        NewPassRepo(pool),
		Subscriptions: NewSubscriptionRepo(pool),
		Usage:         NewUsageRepo(pool),
		Ledger:        NewLedgerRepo(pool),
		Events:        NewEventRepo(pool),
		Purchases:     NewPurchaseRepo(pool),
		Customers:     NewCustomerRepo(pool),
		Listings:      NewListingCounter(pool),
		Rfqs:          NewRfqCounter(pool),
	}
}

// ScopeLockKey is the advisory lock key serializing pass and subscription
// writes for one user in one scope.
func ScopeLockKey(userID, scope string) string {
	return "billing:scope:" + userID + ":" + scope
}

// LedgerLockKey is the advisory lock key serializing ledger appends for one user.
func LedgerLockKey(userID string) string {
	return "billing:ledger:" + userID
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapErr(err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapErr(err))
	}
	return nil
}

func advisoryLock(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, mapErr(err))
	}
	return nil
}

var modelErrors = []error{
	model.ErrNotFound,
	model.ErrInsufficientFunds,
	model.ErrStoreUnavailable,
	model.ErrInvariantViolation,
	model.ErrInvalidInput,
	model.ErrInvalidTransition,
}

// mapErr translates driver errors into the model taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range modelErrors {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", model.ErrInvariantViolation, pgErr.ConstraintName)
		case "23514", "22P02", "23503":
			return fmt.Errorf("%w: %s", model.ErrInvalidInput, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
}
