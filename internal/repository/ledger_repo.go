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

// LedgerRepository is the append-only credit ledger. Appends for one user are
// serialized and each one derives its balance from the latest entry.
type LedgerRepository interface {
	// Append writes one entry. It fails with ErrInsufficientFunds when the new
	// balance would be negative. appended is false when a OncePerMonth append
	// was skipped.
	Append(ctx context.Context, in model.AppendCreditInput) (entry *model.CreditLedgerEntry, appended bool, err error)
	Balance(ctx context.Context, userID string) (int64, error)
	// List returns entries newest first.
	List(ctx context.Context, userID string, limit, offset int) ([]model.CreditLedgerEntry, error)
	Summary(ctx context.Context, userID string, monthStart time.Time) (*model.CreditSummary, error)
}

type ledgerRepo struct {
	pool *pgxpool.Pool
}

// NewLedgerRepo creates a new LedgerRepository.
func NewLedgerRepo(pool *pgxpool.Pool) LedgerRepository {
	return &ledgerRepo{pool: pool}
}

const ledgerColumns = `id::text, user_id, seq, delta, credit_type, reference_id, balance_before, balance_after, created_at`

func scanLedgerEntry(row pgx.Row) (*model.CreditLedgerEntry, error) {
	var e model.CreditLedgerEntry
	if err := row.Scan(&e.ID, &e.UserID, &e.Seq, &e.Delta, &e.CreditType, &e.Reference, &e.BalanceBefore, &e.BalanceAfter, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// MonthBounds returns the first instant of t's UTC month and of the next month.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func (r *ledgerRepo) Append(ctx context.Context, in model.AppendCreditInput) (*model.CreditLedgerEntry, bool, error) {
	if in.Delta == 0 {
		return nil, false, fmt.Errorf("ledger append with zero delta: %w", model.ErrInvalidInput)
	}
	if in.At.IsZero() {
		in.At = time.Now()
	}
	var (
		entry    *model.CreditLedgerEntry
		appended bool
	)
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := advisoryLock(ctx, tx, LedgerLockKey(in.UserID)); err != nil {
			return err
		}

		if in.OncePerMonth {
			start, end := MonthBounds(in.At)
			var exists bool
			const existsQ = `
				SELECT EXISTS (
					SELECT 1 FROM credits_ledger
					WHERE user_id = $1 AND credit_type = $2 AND created_at >= $3 AND created_at < $4
				)
			`
			if err := tx.QueryRow(ctx, existsQ, in.UserID, in.CreditType, start, end).Scan(&exists); err != nil {
				return fmt.Errorf("check %s allocation for user %s: %w", in.CreditType, in.UserID, mapErr(err))
			}
			if exists {
				return nil
			}
		}

		var seq, balance int64
		const latestQ = `SELECT seq, balance_after FROM credits_ledger WHERE user_id = $1 ORDER BY seq DESC LIMIT 1`
		err := tx.QueryRow(ctx, latestQ, in.UserID).Scan(&seq, &balance)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read balance for user %s: %w", in.UserID, mapErr(err))
		}
		next := balance + in.Delta
		if next < 0 {
			return fmt.Errorf("deduct %d from balance %d for user %s: %w", -in.Delta, balance, in.UserID, model.ErrInsufficientFunds)
		}

		insertQ := `
			INSERT INTO credits_ledger (id, user_id, seq, delta, credit_type, reference_id, balance_before, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING ` + ledgerColumns
		entry, err = scanLedgerEntry(tx.QueryRow(ctx, insertQ, uuid.NewString(), in.UserID, seq+1, in.Delta,
			in.CreditType, in.Reference, balance, next, in.At))
		if err != nil {
			return fmt.Errorf("append ledger entry for user %s: %w", in.UserID, mapErr(err))
		}
		appended = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return entry, appended, nil
}

func (r *ledgerRepo) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	const q = `SELECT balance_after FROM credits_ledger WHERE user_id = $1 ORDER BY seq DESC LIMIT 1`
	err := r.pool.QueryRow(ctx, q, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance for user %s: %w", userID, mapErr(err))
	}
	return balance, nil
}

func (r *ledgerRepo) List(ctx context.Context, userID string, limit, offset int) ([]model.CreditLedgerEntry, error) {
	q := `SELECT ` + ledgerColumns + ` FROM credits_ledger WHERE user_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list ledger for user %s: %w", userID, mapErr(err))
	}
	defer rows.Close()

	var out []model.CreditLedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", mapErr(err))
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger for user %s: %w", userID, mapErr(err))
	}
	return out, nil
}

func (r *ledgerRepo) Summary(ctx context.Context, userID string, monthStart time.Time) (*model.CreditSummary, error) {
	balance, err := r.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := &model.CreditSummary{Balance: balance, SpendingBreakdown: map[model.CreditType]int64{}}

	const totalsQ = `
		SELECT
			COALESCE(SUM(delta) FILTER (WHERE delta > 0 AND credit_type = 'purchase'), 0)::bigint,
			COALESCE(-SUM(delta) FILTER (WHERE delta < 0), 0)::bigint,
			COALESCE(-SUM(delta) FILTER (WHERE delta < 0 AND created_at >= $2), 0)::bigint
		FROM credits_ledger
		WHERE user_id = $1
	`
	if err := r.pool.QueryRow(ctx, totalsQ, userID, monthStart).Scan(&summary.TotalPurchased, &summary.TotalSpent, &summary.SpentThisMonth); err != nil {
		return nil, fmt.Errorf("summarize ledger for user %s: %w", userID, mapErr(err))
	}

	const breakdownQ = `
		SELECT credit_type, (-SUM(delta))::bigint
		FROM credits_ledger
		WHERE user_id = $1 AND delta < 0
		GROUP BY credit_type
	`
	rows, err := r.pool.Query(ctx, breakdownQ, userID)
	if err != nil {
		return nil, fmt.Errorf("spending breakdown for user %s: %w", userID, mapErr(err))
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ   model.CreditType
			spent int64
		)
		if err := rows.Scan(&typ, &spent); err != nil {
			return nil, fmt.Errorf("scan spending breakdown: %w", mapErr(err))
		}
		summary.SpendingBreakdown[typ] = spent
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spending breakdown for user %s: %w", userID, mapErr(err))
	}
	return summary, nil
}
