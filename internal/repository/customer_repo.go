package repository

import (
	"context"
	"errors"
	"fmt"

	"gatekeeper/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CustomerRepository maps users to payment provider customers.
type CustomerRepository interface {
	// Get returns nil, nil when the user has no customer record yet.
	Get(ctx context.Context, userID string) (*model.BillingCustomer, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*model.BillingCustomer, error)
	Upsert(ctx context.Context, userID, email string) (*model.BillingCustomer, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
}

type customerRepo struct {
	pool *pgxpool.Pool
}

// NewCustomerRepo creates a new CustomerRepository.
func NewCustomerRepo(pool *pgxpool.Pool) CustomerRepository {
	return &customerRepo{pool: pool}
}

const customerColumns = `user_id, email, stripe_customer_id, created_at, updated_at`

func scanCustomer(row pgx.Row) (*model.BillingCustomer, error) {
	var c model.BillingCustomer
	if err := row.Scan(&c.UserID, &c.Email, &c.StripeCustomerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *customerRepo) Get(ctx context.Context, userID string) (*model.BillingCustomer, error) {
	q := `SELECT ` + customerColumns + ` FROM billing_customers WHERE user_id = $1`
	c, err := scanCustomer(r.pool.QueryRow(ctx, q, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch customer for user %s: %w", userID, mapErr(err))
	}
	return c, nil
}

func (r *customerRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*model.BillingCustomer, error) {
	q := `SELECT ` + customerColumns + ` FROM billing_customers WHERE stripe_customer_id = $1`
	c, err := scanCustomer(r.pool.QueryRow(ctx, q, customerID))
	if err != nil {
		return nil, fmt.Errorf("fetch customer by stripe id %s: %w", customerID, mapErr(err))
	}
	return c, nil
}

func (r *customerRepo) Upsert(ctx context.Context, userID, email string) (*model.BillingCustomer, error) {
	q := `
		INSERT INTO billing_customers (user_id, email)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET email = CASE WHEN EXCLUDED.email = '' THEN billing_customers.email ELSE EXCLUDED.email END,
		    updated_at = NOW()
		RETURNING ` + customerColumns
	c, err := scanCustomer(r.pool.QueryRow(ctx, q, userID, email))
	if err != nil {
		return nil, fmt.Errorf("upsert customer for user %s: %w", userID, mapErr(err))
	}
	return c, nil
}

func (r *customerRepo) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	const q = `UPDATE billing_customers SET stripe_customer_id = $2, updated_at = NOW() WHERE user_id = $1`
	tag, err := r.pool.Exec(ctx, q, userID, customerID)
	if err != nil {
		return fmt.Errorf("store stripe customer id for user %s: %w", userID, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %s: %w", userID, model.ErrNotFound)
	}
	return nil
}
