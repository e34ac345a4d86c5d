package repository

import (
	"context"
	"fmt"

	"gatekeeper/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProductRepository reads the product catalog and its entitlements.
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*model.BillingProduct, error)
	GetByCode(ctx context.Context, code string) (*model.BillingProduct, error)
	ListActive(ctx context.Context) ([]model.BillingProduct, error)
	// ListEntitlements returns entitlements grouped by product id.
	ListEntitlements(ctx context.Context, productIDs []string) (map[string][]model.Entitlement, error)
	// Upsert creates or replaces a product and its full entitlement set.
	Upsert(ctx context.Context, p *model.BillingProduct, ents []model.Entitlement) error
}

type productRepo struct {
	pool *pgxpool.Pool
}

// NewProductRepo creates a new ProductRepository.
func NewProductRepo(pool *pgxpool.Pool) ProductRepository {
	return &productRepo{pool: pool}
}

const productColumns = `id::text, code, name, scope, tier, tier_rank, billing_mode, duration_days,
	price_cents, currency, provider_price_id, active, created_at`

func scanProduct(row pgx.Row) (*model.BillingProduct, error) {
	var p model.BillingProduct
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Scope, &p.Tier, &p.TierRank, &p.BillingMode,
		&p.DurationDays, &p.PriceCents, &p.Currency, &p.ProviderPriceID, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepo) GetByID(ctx context.Context, id string) (*model.BillingProduct, error) {
	q := `SELECT ` + productColumns + ` FROM billing_products WHERE id = $1`
	p, err := scanProduct(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("fetch product %s: %w", id, mapErr(err))
	}
	return p, nil
}

func (r *productRepo) GetByCode(ctx context.Context, code string) (*model.BillingProduct, error) {
	q := `SELECT ` + productColumns + ` FROM billing_products WHERE code = $1`
	p, err := scanProduct(r.pool.QueryRow(ctx, q, code))
	if err != nil {
		return nil, fmt.Errorf("fetch product by code %s: %w", code, mapErr(err))
	}
	return p, nil
}

func (r *productRepo) ListActive(ctx context.Context) ([]model.BillingProduct, error) {
	q := `SELECT ` + productColumns + ` FROM billing_products WHERE active ORDER BY scope, tier_rank`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", mapErr(err))
	}
	defer rows.Close()

	var out []model.BillingProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", mapErr(err))
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", mapErr(err))
	}
	return out, nil
}

func (r *productRepo) ListEntitlements(ctx context.Context, productIDs []string) (map[string][]model.Entitlement, error) {
	out := make(map[string][]model.Entitlement, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	const q = `
		SELECT product_id::text, entitlement_key, value_kind, numeric_value, flag_value
		FROM billing_entitlements
		WHERE product_id = ANY($1::uuid[])
	`
	rows, err := r.pool.Query(ctx, q, productIDs)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", mapErr(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e    model.Entitlement
			kind string
			num  *int64
			flag *bool
		)
		if err := rows.Scan(&e.ProductID, &e.Key, &kind, &num, &flag); err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", mapErr(err))
		}
		switch {
		case kind == "numeric" && num != nil:
			e.Value = model.Numeric(*num)
		case kind == "flag" && flag != nil:
			e.Value = model.Flag(*flag)
		default:
			return nil, fmt.Errorf("entitlement %s on product %s has kind %q: %w", e.Key, e.ProductID, kind, model.ErrInvalidInput)
		}
		out[e.ProductID] = append(out[e.ProductID], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entitlements: %w", mapErr(err))
	}
	return out, nil
}

func (r *productRepo) Upsert(ctx context.Context, p *model.BillingProduct, ents []model.Entitlement) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		const upsertQ = `
			INSERT INTO billing_products (id, code, name, scope, tier, tier_rank, billing_mode, duration_days,
			                              price_cents, currency, provider_price_id, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (code) DO UPDATE
			SET name = EXCLUDED.name,
			    scope = EXCLUDED.scope,
			    tier = EXCLUDED.tier,
			    tier_rank = EXCLUDED.tier_rank,
			    billing_mode = EXCLUDED.billing_mode,
			    duration_days = EXCLUDED.duration_days,
			    price_cents = EXCLUDED.price_cents,
			    currency = EXCLUDED.currency,
			    provider_price_id = EXCLUDED.provider_price_id,
			    active = EXCLUDED.active
			RETURNING id::text, created_at
		`
		err := tx.QueryRow(ctx, upsertQ, p.ID, p.Code, p.Name, p.Scope, p.Tier, p.TierRank, p.BillingMode,
			p.DurationDays, p.PriceCents, p.Currency, p.ProviderPriceID, p.Active).Scan(&p.ID, &p.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert product %s: %w", p.Code, mapErr(err))
		}
		if _, err := tx.Exec(ctx, `DELETE FROM billing_entitlements WHERE product_id = $1`, p.ID); err != nil {
			return fmt.Errorf("clear entitlements for product %s: %w", p.Code, mapErr(err))
		}
		const insertQ = `
			INSERT INTO billing_entitlements (product_id, entitlement_key, value_kind, numeric_value, flag_value)
			VALUES ($1, $2, $3, $4, $5)
		`
		for _, e := range ents {
			var (
				num  *int64
				flag *bool
			)
			if n, ok := e.Value.Int(); ok {
				num = &n
			} else if b, ok := e.Value.Bool(); ok {
				flag = &b
			} else {
				return fmt.Errorf("entitlement %s: %w", e.Key, model.ErrInvalidInput)
			}
			if _, err := tx.Exec(ctx, insertQ, p.ID, e.Key, e.Value.Kind().String(), num, flag); err != nil {
				return fmt.Errorf("insert entitlement %s for product %s: %w", e.Key, p.Code, mapErr(err))
			}
		}
		return nil
	})
}
