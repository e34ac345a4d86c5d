package model

import "time"

// PurchaseStatus tracks a pass purchase attempt.
type PurchaseStatus string

const (
	PurchaseInitiated PurchaseStatus = "initiated"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
)

// PassPurchase records an attempt to buy a pass.
type PassPurchase struct {
	ID          string         `db:"id" json:"id"`
	UserID      string         `db:"user_id" json:"user_id"`
	ProductID   string         `db:"product_id" json:"product_id"`
	Provider    string         `db:"provider" json:"provider"`
	ProviderRef string         `db:"provider_ref" json:"provider_ref"`
	AmountCents int64          `db:"amount_cents" json:"amount_cents"`
	Currency    string         `db:"currency" json:"currency"`
	Status      PurchaseStatus `db:"status" json:"status"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}
