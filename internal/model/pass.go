package model

import "time"

// PassStatus is the lifecycle state of a fixed-duration pass.
type PassStatus string

const (
	PassStatusActive    PassStatus = "active"
	PassStatusExpired   PassStatus = "expired"
	PassStatusCancelled PassStatus = "cancelled"
)

// Pass is a time-boxed grant of a product.
type Pass struct {
	ID          string            `db:"id" json:"id"`
	UserID      string            `db:"user_id" json:"user_id"`
	ProductID   string            `db:"product_id" json:"product_id"`
	Scope       string            `db:"scope" json:"scope"`
	Status      PassStatus        `db:"status" json:"status"`
	StartsAt    time.Time         `db:"starts_at" json:"starts_at"`
	EndsAt      time.Time         `db:"ends_at" json:"ends_at"`
	PurchaseRef string            `db:"purchase_ref" json:"purchase_ref"`
	Metadata    map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// LiveAt reports whether the pass grants capabilities at t.
func (p Pass) LiveAt(t time.Time) bool {
	return p.Status == PassStatusActive && p.EndsAt.After(t)
}

// ActivatePassInput carries everything needed to create a pass idempotently.
// Replaying the same input yields the same pass.
type ActivatePassInput struct {
	UserID      string
	ProductID   string
	Scope       string
	PurchaseRef string
	StartsAt    time.Time
	EndsAt      time.Time
	Metadata    map[string]string
	// Usage rows are created zeroed in the same transaction as the pass,
	// bounded by the pass period.
	Usage []IncludedUsagePeriod
}
