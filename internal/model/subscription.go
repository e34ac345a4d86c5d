package model

import "time"

// Subscription mirrors a recurring subscription owned by the payment provider.
type Subscription struct {
	ID                     string             `db:"id" json:"id"`
	UserID                 string             `db:"user_id" json:"user_id"`
	ProductID              string             `db:"product_id" json:"product_id"`
	Scope                  string             `db:"scope" json:"scope"`
	Status                 SubscriptionStatus `db:"status" json:"status"`
	ProviderSubscriptionID string             `db:"provider_subscription_id" json:"provider_subscription_id"`
	ProviderCustomerID     *string            `db:"provider_customer_id" json:"provider_customer_id,omitempty"`
	CurrentPeriodStart     time.Time          `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `db:"current_period_end" json:"current_period_end"`
	CancelAtPeriodEnd      bool               `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	LastEventAt            time.Time          `db:"last_event_at" json:"-"`
	CreatedAt              time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time          `db:"updated_at" json:"updated_at"`
}

// Live reports whether the subscription currently grants capabilities.
func (s Subscription) Live() bool { return s.Status.Live() }

// UpsertSubscriptionInput is the state written when a subscription checkout completes.
type UpsertSubscriptionInput struct {
	UserID                 string
	ProductID              string
	Scope                  string
	Status                 SubscriptionStatus
	ProviderSubscriptionID string
	ProviderCustomerID     *string
	PeriodStart            time.Time
	PeriodEnd              time.Time
	CancelAtPeriodEnd      bool
	EventAt                time.Time
}

// SubscriptionChange is a partial update applied to an existing subscription.
// Nil fields are left untouched.
type SubscriptionChange struct {
	Status            *SubscriptionStatus
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
	EventAt           time.Time
}
