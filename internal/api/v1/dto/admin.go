package dto

import "gatekeeper/internal/model"

// AdminGrantPassRequest grants a pass without payment.
type AdminGrantPassRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	ProductCode string `json:"product_code" validate:"required"`
}

// AdminActivatePassRequest activates a pass for a purchase settled outside the API.
type AdminActivatePassRequest struct {
	UserID      string            `json:"user_id" validate:"required"`
	ProductID   string            `json:"product_id" validate:"required"`
	PurchaseRef string            `json:"purchase_ref" validate:"required"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AdminRevokePassRequest cancels a pass.
type AdminRevokePassRequest struct {
	PassID string `json:"pass_id" validate:"required"`
}

// AdminGrantCreditsRequest appends a positive ledger entry.
type AdminGrantCreditsRequest struct {
	UserID      string           `json:"user_id" validate:"required"`
	Amount      int64            `json:"amount" validate:"gt=0"`
	CreditType  model.CreditType `json:"credit_type" validate:"required,oneof=purchase bonus promotional refund"`
	ReferenceID string           `json:"reference_id,omitempty" validate:"max=200"`
}
