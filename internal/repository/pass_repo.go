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

// PassRepository stores fixed-duration passes. At most one pass per
// (user, scope) is active at any time.
type PassRepository interface {
	// Activate cancels every other active pass of the user in the scope and
	// creates the new one with its zeroed usage rows, atomically. A replay with
	// the same (user, product, purchase ref) returns the existing pass and
	// created=false.
	Activate(ctx context.Context, in model.ActivatePassInput) (pass *model.Pass, created bool, err error)
	GetByID(ctx context.Context, id string) (*model.Pass, error)
	// ListLive returns active passes whose end is after now.
	ListLive(ctx context.Context, userID string, now time.Time) ([]model.Pass, error)
	ListByUser(ctx context.Context, userID string) ([]model.Pass, error)
	// Cancel marks a pass cancelled. Cancelling a non-active pass is a no-op.
	Cancel(ctx context.Context, id string) (*model.Pass, error)
	// ExpireDue marks active passes ending at or before now as expired and
	// returns the affected user ids.
	ExpireDue(ctx context.Context, now time.Time) ([]string, error)
}

type passRepo struct {
	pool *pgxpool.Pool
}

// NewPassRepo creates a new PassRepository.
func NewPassRepo(pool *pgxpool.Pool) PassRepository {
	return &passRepo{pool: pool}
}

const passColumns = `id::text, user_id, product_id::text, scope, status, starts_at, ends_at, purchase_ref, metadata, created_at, updated_at`

func scanPass(row pgx.Row) (*model.Pass, error) {
	var p model.Pass
	err := row.Scan(&p.ID, &p.UserID, &p.ProductID, &p.Scope, &p.Status, &p.StartsAt, &p.EndsAt,
		&p.PurchaseRef, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPasses(rows pgx.Rows) ([]model.Pass, error) {
	defer rows.Close()
	var out []model.Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, *p)
	}
	return out, mapErr(rows.Err())
}

func (r *passRepo) Activate(ctx context.Context, in model.ActivatePassInput) (*model.Pass, bool, error) {
	if in.Metadata == nil {
		in.Metadata = map[string]string{}
	}
	var (
		pass    *model.Pass
		created bool
	)
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := advisoryLock(ctx, tx, ScopeLockKey(in.UserID, in.Scope)); err != nil {
			return err
		}

		existingQ := `SELECT ` + passColumns + ` FROM billing_passes
			WHERE user_id = $1 AND product_id = $2 AND purchase_ref = $3`
		existing, err := scanPass(tx.QueryRow(ctx, existingQ, in.UserID, in.ProductID, in.PurchaseRef))
		switch {
		case err == nil:
			pass = existing
			return initPeriods(ctx, tx, passUsage(existing, in.Usage))
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("lookup pass %s for user %s: %w", in.PurchaseRef, in.UserID, mapErr(err))
		}

		const cancelQ = `
			UPDATE billing_passes
			SET status = 'cancelled', updated_at = NOW()
			WHERE user_id = $1 AND scope = $2 AND status = 'active'
		`
		if _, err := tx.Exec(ctx, cancelQ, in.UserID, in.Scope); err != nil {
			return fmt.Errorf("cancel active %s passes for user %s: %w", in.Scope, in.UserID, mapErr(err))
		}

		insertQ := `
			INSERT INTO billing_passes (id, user_id, product_id, scope, status, starts_at, ends_at, purchase_ref, metadata)
			VALUES ($1, $2, $3, $4, 'active', $5, $6, $7, $8)
			RETURNING ` + passColumns
		pass, err = scanPass(tx.QueryRow(ctx, insertQ, uuid.NewString(), in.UserID, in.ProductID, in.Scope,
			in.StartsAt, in.EndsAt, in.PurchaseRef, in.Metadata))
		if err != nil {
			return fmt.Errorf("insert pass for user %s: %w", in.UserID, mapErr(err))
		}
		created = true
		return initPeriods(ctx, tx, passUsage(pass, in.Usage))
	})
	if err != nil {
		return nil, false, err
	}
	return pass, created, nil
}

func (r *passRepo) GetByID(ctx context.Context, id string) (*model.Pass, error) {
	q := `SELECT ` + passColumns + ` FROM billing_passes WHERE id = $1`
	p, err := scanPass(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("fetch pass %s: %w", id, mapErr(err))
	}
	return p, nil
}

func (r *passRepo) ListLive(ctx context.Context, userID string, now time.Time) ([]model.Pass, error) {
	q := `SELECT ` + passColumns + ` FROM billing_passes
		WHERE user_id = $1 AND status = 'active' AND ends_at > $2
		ORDER BY ends_at DESC`
	rows, err := r.pool.Query(ctx, q, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list live passes for user %s: %w", userID, mapErr(err))
	}
	passes, err := collectPasses(rows)
	if err != nil {
		return nil, fmt.Errorf("list live passes for user %s: %w", userID, err)
	}
	return passes, nil
}

func (r *passRepo) ListByUser(ctx context.Context, userID string) ([]model.Pass, error) {
	q := `SELECT ` + passColumns + ` FROM billing_passes WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list passes for user %s: %w", userID, mapErr(err))
	}
	passes, err := collectPasses(rows)
	if err != nil {
		return nil, fmt.Errorf("list passes for user %s: %w", userID, err)
	}
	return passes, nil
}

func (r *passRepo) Cancel(ctx context.Context, id string) (*model.Pass, error) {
	q := `
		UPDATE billing_passes
		SET status = CASE WHEN status = 'active' THEN 'cancelled' ELSE status END,
		    updated_at = CASE WHEN status = 'active' THEN NOW() ELSE updated_at END
		WHERE id = $1
		RETURNING ` + passColumns
	p, err := scanPass(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("cancel pass %s: %w", id, mapErr(err))
	}
	return p, nil
}

func (r *passRepo) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	const q = `
		UPDATE billing_passes
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND ends_at <= $1
		RETURNING user_id
	`
	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("expire passes: %w", mapErr(err))
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan expired pass: %w", mapErr(err))
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expire passes: %w", mapErr(err))
	}
	return users, nil
}

// passUsage bounds usage rows by the pass period.
func passUsage(p *model.Pass, usage []model.IncludedUsagePeriod) []model.IncludedUsagePeriod {
	out := make([]model.IncludedUsagePeriod, len(usage))
	for i, u := range usage {
		u.PeriodStart, u.PeriodEnd = p.StartsAt, p.EndsAt
		out[i] = u
	}
	return out
}
