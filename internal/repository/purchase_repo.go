package repository

import (
	"context"
	"fmt"

	"gatekeeper/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PurchaseRepository records pass purchase attempts.
type PurchaseRepository interface {
	// Create stores an initiated purchase. Creating the same (provider, ref)
	// twice keeps the first record.
	Create(ctx context.Context, p *model.PassPurchase) error
	MarkStatus(ctx context.Context, provider, providerRef string, status model.PurchaseStatus) error
	ListRecent(ctx context.Context, userID string, limit int) ([]model.PassPurchase, error)
}

type purchaseRepo struct {
	pool *pgxpool.Pool
}

// NewPurchaseRepo creates a new PurchaseRepository.
func NewPurchaseRepo(pool *pgxpool.Pool) PurchaseRepository {
	return &purchaseRepo{pool: pool}
}

const purchaseColumns = `id::text, user_id, product_id::text, provider, provider_ref, amount_cents, currency, status, created_at, updated_at`

func scanPurchase(row pgx.Row) (*model.PassPurchase, error) {
	var p model.PassPurchase
	err := row.Scan(&p.ID, &p.UserID, &p.ProductID, &p.Provider, &p.ProviderRef, &p.AmountCents,
		&p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *purchaseRepo) Create(ctx context.Context, p *model.PassPurchase) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = model.PurchaseInitiated
	}
	const q = `
		INSERT INTO billing_pass_purchases (id, user_id, product_id, provider, provider_ref, amount_cents, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider, provider_ref) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, q, p.ID, p.UserID, p.ProductID, p.Provider, p.ProviderRef, p.AmountCents, p.Currency, p.Status); err != nil {
		return fmt.Errorf("create purchase %s/%s: %w", p.Provider, p.ProviderRef, mapErr(err))
	}
	return nil
}

func (r *purchaseRepo) MarkStatus(ctx context.Context, provider, providerRef string, status model.PurchaseStatus) error {
	const q = `
		UPDATE billing_pass_purchases
		SET status = $3, updated_at = NOW()
		WHERE provider = $1 AND provider_ref = $2
	`
	tag, err := r.pool.Exec(ctx, q, provider, providerRef, status)
	if err != nil {
		return fmt.Errorf("mark purchase %s/%s %s: %w", provider, providerRef, status, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchase %s/%s: %w", provider, providerRef, model.ErrNotFound)
	}
	return nil
}

func (r *purchaseRepo) ListRecent(ctx context.Context, userID string, limit int) ([]model.PassPurchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM billing_pass_purchases WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases for user %s: %w", userID, mapErr(err))
	}
	defer rows.Close()

	var out []model.PassPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", mapErr(err))
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list purchases for user %s: %w", userID, mapErr(err))
	}
	return out, nil
}
