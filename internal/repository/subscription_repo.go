package repository

import (
	"context"
	"errors"
	"fmt"

	"gatekeeper/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository stores provider-owned subscriptions keyed by the
// provider's subscription id.
type SubscriptionRepository interface {
	// UpsertFromCheckout records a completed subscription checkout and cancels the
	// user's active passes and other subscriptions in the same scope, in one transaction.
	UpsertFromCheckout(ctx context.Context, in model.UpsertSubscriptionInput) (*model.Subscription, error)
	GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error)
	// Mutate loads the subscription under a row lock and lets fn edit it. The
	// edit is written only when fn returns true.
	Mutate(ctx context.Context, providerSubscriptionID string, fn func(sub *model.Subscription) (bool, error)) (*model.Subscription, error)
	// ListLive returns the user's active and trialing subscriptions.
	ListLive(ctx context.Context, userID string) ([]model.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]model.Subscription, error)
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id::text, user_id, product_id::text, scope, status, provider_subscription_id,
	provider_customer_id, current_period_start, current_period_end, cancel_at_period_end, last_event_at,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.ProductID, &s.Scope, &s.Status, &s.ProviderSubscriptionID,
		&s.ProviderCustomerID, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd,
		&s.LastEventAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSubscriptions(rows pgx.Rows) ([]model.Subscription, error) {
	defer rows.Close()
	var out []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, *s)
	}
	return out, mapErr(rows.Err())
}

func (r *subscriptionRepo) UpsertFromCheckout(ctx context.Context, in model.UpsertSubscriptionInput) (*model.Subscription, error) {
	var sub *model.Subscription
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := advisoryLock(ctx, tx, ScopeLockKey(in.UserID, in.Scope)); err != nil {
			return err
		}
		existingQ := `SELECT ` + subscriptionColumns + ` FROM billing_subscriptions WHERE provider_subscription_id = $1 FOR UPDATE`
		existing, err := scanSubscription(tx.QueryRow(ctx, existingQ, in.ProviderSubscriptionID))
		switch {
		case err == nil && existing.LastEventAt.After(in.EventAt):
			// Stale replay: keep the newer state and leave the scope untouched.
			sub = existing
			return nil
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("lock subscription %s: %w", in.ProviderSubscriptionID, mapErr(err))
		}

		const cancelQ = `
			UPDATE billing_passes
			SET status = 'cancelled', updated_at = NOW()
			WHERE user_id = $1 AND scope = $2 AND status = 'active'
		`
		if _, err := tx.Exec(ctx, cancelQ, in.UserID, in.Scope); err != nil {
			return fmt.Errorf("cancel %s passes for user %s: %w", in.Scope, in.UserID, mapErr(err))
		}
		const cancelSubsQ = `
			UPDATE billing_subscriptions
			SET status = 'cancelled', updated_at = NOW()
			WHERE user_id = $1 AND scope = $2 AND status IN ('active', 'trialing', 'past_due', 'paused')
			  AND provider_subscription_id <> $3
		`
		if _, err := tx.Exec(ctx, cancelSubsQ, in.UserID, in.Scope, in.ProviderSubscriptionID); err != nil {
			return fmt.Errorf("cancel %s subscriptions for user %s: %w", in.Scope, in.UserID, mapErr(err))
		}

		// Older checkout replays do not overwrite newer state.
		upsertQ := `
			INSERT INTO billing_subscriptions (id, user_id, product_id, scope, status, provider_subscription_id,
			    provider_customer_id, current_period_start, current_period_end, cancel_at_period_end, last_event_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (provider_subscription_id) DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    product_id = EXCLUDED.product_id,
			    scope = EXCLUDED.scope,
			    status = EXCLUDED.status,
			    provider_customer_id = COALESCE(EXCLUDED.provider_customer_id, billing_subscriptions.provider_customer_id),
			    current_period_start = EXCLUDED.current_period_start,
			    current_period_end = EXCLUDED.current_period_end,
			    cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			    last_event_at = EXCLUDED.last_event_at,
			    updated_at = NOW()
			WHERE billing_subscriptions.last_event_at <= EXCLUDED.last_event_at
			RETURNING ` + subscriptionColumns
		s, err := scanSubscription(tx.QueryRow(ctx, upsertQ, uuid.NewString(), in.UserID, in.ProductID, in.Scope,
			in.Status, in.ProviderSubscriptionID, in.ProviderCustomerID, in.PeriodStart, in.PeriodEnd,
			in.CancelAtPeriodEnd, in.EventAt))
		if errors.Is(err, pgx.ErrNoRows) {
			q := `SELECT ` + subscriptionColumns + ` FROM billing_subscriptions WHERE provider_subscription_id = $1`
			s, err = scanSubscription(tx.QueryRow(ctx, q, in.ProviderSubscriptionID))
		}
		if err != nil {
			return fmt.Errorf("upsert subscription %s: %w", in.ProviderSubscriptionID, mapErr(err))
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *subscriptionRepo) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM billing_subscriptions WHERE provider_subscription_id = $1`
	s, err := scanSubscription(r.pool.QueryRow(ctx, q, providerSubscriptionID))
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", providerSubscriptionID, mapErr(err))
	}
	return s, nil
}

func (r *subscriptionRepo) Mutate(ctx context.Context, providerSubscriptionID string, fn func(sub *model.Subscription) (bool, error)) (*model.Subscription, error) {
	var out *model.Subscription
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		q := `SELECT ` + subscriptionColumns + ` FROM billing_subscriptions WHERE provider_subscription_id = $1 FOR UPDATE`
		cur, err := scanSubscription(tx.QueryRow(ctx, q, providerSubscriptionID))
		if err != nil {
			return fmt.Errorf("lock subscription %s: %w", providerSubscriptionID, mapErr(err))
		}
		next := *cur
		changed, err := fn(&next)
		if err != nil {
			return err
		}
		if !changed {
			out = cur
			return nil
		}
		updateQ := `
			UPDATE billing_subscriptions
			SET status = $2,
			    current_period_start = $3,
			    current_period_end = $4,
			    cancel_at_period_end = $5,
			    last_event_at = $6,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING ` + subscriptionColumns
		out, err = scanSubscription(tx.QueryRow(ctx, updateQ, cur.ID, next.Status, next.CurrentPeriodStart,
			next.CurrentPeriodEnd, next.CancelAtPeriodEnd, next.LastEventAt))
		if err != nil {
			return fmt.Errorf("update subscription %s: %w", providerSubscriptionID, mapErr(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *subscriptionRepo) ListLive(ctx context.Context, userID string) ([]model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM billing_subscriptions
		WHERE user_id = $1 AND status IN ('active', 'trialing')
		ORDER BY current_period_end DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list live subscriptions for user %s: %w", userID, mapErr(err))
	}
	subs, err := collectSubscriptions(rows)
	if err != nil {
		return nil, fmt.Errorf("list live subscriptions for user %s: %w", userID, err)
	}
	return subs, nil
}

func (r *subscriptionRepo) ListByUser(ctx context.Context, userID string) ([]model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM billing_subscriptions WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for user %s: %w", userID, mapErr(err))
	}
	subs, err := collectSubscriptions(rows)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for user %s: %w", userID, err)
	}
	return subs, nil
}
