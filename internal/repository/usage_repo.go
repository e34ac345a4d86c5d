package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeeper/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository tracks consumption of included allowances per billing period.
type UsageRepository interface {
	// InitPeriods creates zeroed period rows. Existing rows are left untouched.
	InitPeriods(ctx context.Context, periods []model.IncludedUsagePeriod) error
	// Current returns the period row covering at, or ErrNotFound.
	Current(ctx context.Context, userID, productID, metricKey string, at time.Time) (*model.IncludedUsagePeriod, error)
	// Consume increments the period row covering at by one if it is below limit.
	// The check and the increment are a single atomic step. It returns the row
	// after the attempt and whether a unit was consumed.
	Consume(ctx context.Context, userID, productID, metricKey string, at time.Time, limit int64) (*model.IncludedUsagePeriod, bool, error)
}

type usageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo creates a new UsageRepository.
func NewUsageRepo(pool *pgxpool.Pool) UsageRepository {
	return &usageRepo{pool: pool}
}

const usageColumns = `id::text, user_id, product_id::text, scope, metric_key, period_start, period_end, metric_value`

func scanUsage(row pgx.Row) (*model.IncludedUsagePeriod, error) {
	var u model.IncludedUsagePeriod
	if err := row.Scan(&u.ID, &u.UserID, &u.ProductID, &u.Scope, &u.MetricKey, &u.PeriodStart, &u.PeriodEnd, &u.MetricValue); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *usageRepo) InitPeriods(ctx context.Context, periods []model.IncludedUsagePeriod) error {
	return initPeriods(ctx, r.pool, periods)
}

// batchSender is satisfied by both *pgxpool.Pool and pgx.Tx.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func initPeriods(ctx context.Context, db batchSender, periods []model.IncludedUsagePeriod) error {
	if len(periods) == 0 {
		return nil
	}
	const q = `
		INSERT INTO billing_included_usage (id, user_id, product_id, scope, metric_key, period_start, period_end, metric_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		ON CONFLICT (user_id, product_id, period_start, metric_key) DO NOTHING
	`
	batch := &pgx.Batch{}
	for _, p := range periods {
		batch.Queue(q, uuid.NewString(), p.UserID, p.ProductID, p.Scope, p.MetricKey, p.PeriodStart, p.PeriodEnd)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("init %d usage periods: %w", len(periods), mapErr(err))
	}
	return nil
}

func (r *usageRepo) Current(ctx context.Context, userID, productID, metricKey string, at time.Time) (*model.IncludedUsagePeriod, error) {
	q := `SELECT ` + usageColumns + ` FROM billing_included_usage
		WHERE user_id = $1 AND product_id = $2 AND metric_key = $3
		  AND period_start <= $4 AND period_end > $4
		ORDER BY period_start DESC
		LIMIT 1`
	u, err := scanUsage(r.pool.QueryRow(ctx, q, userID, productID, metricKey, at))
	if err != nil {
		return nil, fmt.Errorf("fetch %s usage for user %s: %w", metricKey, userID, mapErr(err))
	}
	return u, nil
}

func (r *usageRepo) Consume(ctx context.Context, userID, productID, metricKey string, at time.Time, limit int64) (*model.IncludedUsagePeriod, bool, error) {
	q := `
		UPDATE billing_included_usage
		SET metric_value = metric_value + 1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM billing_included_usage
			WHERE user_id = $1 AND product_id = $2 AND metric_key = $3
			  AND period_start <= $4 AND period_end > $4
			ORDER BY period_start DESC
			LIMIT 1
		)
		AND metric_value < $5
		RETURNING ` + usageColumns
	u, err := scanUsage(r.pool.QueryRow(ctx, q, userID, productID, metricKey, at, limit))
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("consume %s for user %s: %w", metricKey, userID, mapErr(err))
	}
	cur, err := r.Current(ctx, userID, productID, metricKey, at)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}
