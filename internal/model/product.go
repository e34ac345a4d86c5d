package model

import "time"

// Scopes partition capabilities by user role.
const (
	ScopeEmployer = "employer"
	ScopeVendor   = "vendor"
)

// Scopes lists every scope the resolver computes.
var Scopes = []string{ScopeEmployer, ScopeVendor}

// BillingMode says how a product can be bought.
type BillingMode string

const (
	BillingModePass         BillingMode = "pass"
	BillingModeSubscription BillingMode = "subscription"
	BillingModeBoth         BillingMode = "both"
)

// TierFree is the implicit tier of a user without a live pass or subscription.
const TierFree = "free"

// DefaultPassDurationDays applies when a product does not declare a duration.
const DefaultPassDurationDays = 30

// BillingProduct is a purchasable tier within a scope.
type BillingProduct struct {
	ID              string      `db:"id" json:"id"`
	Code            string      `db:"code" json:"code"`
	Name            string      `db:"name" json:"name"`
	Scope           string      `db:"scope" json:"scope"`
	Tier            string      `db:"tier" json:"tier"`
	TierRank        int         `db:"tier_rank" json:"tier_rank"`
	BillingMode     BillingMode `db:"billing_mode" json:"billing_mode"`
	DurationDays    int         `db:"duration_days" json:"duration_days"`
	PriceCents      int64       `db:"price_cents" json:"price_cents"`
	Currency        string      `db:"currency" json:"currency"`
	ProviderPriceID *string     `db:"provider_price_id" json:"provider_price_id,omitempty"`
	Active          bool        `db:"active" json:"active"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}

// SupportsPass reports whether the product can be sold as a fixed-duration pass.
func (p BillingProduct) SupportsPass() bool {
	return p.BillingMode == BillingModePass || p.BillingMode == BillingModeBoth
}

// SupportsSubscription reports whether the product can be sold as a recurring subscription.
func (p BillingProduct) SupportsSubscription() bool {
	return p.BillingMode == BillingModeSubscription || p.BillingMode == BillingModeBoth
}

// PassDuration returns the pass length, falling back to DefaultPassDurationDays.
func (p BillingProduct) PassDuration() time.Duration {
	days := p.DurationDays
	if days <= 0 {
		days = DefaultPassDurationDays
	}
	return time.Duration(days) * 24 * time.Hour
}
