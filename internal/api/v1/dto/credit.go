package dto

import (
	"gatekeeper/internal/model"
)

// CreditChargeRequest pays for an action with credits. The price comes from
// the action catalog.
type CreditChargeRequest struct {
	CreditType  model.CreditType `json:"credit_type" validate:"required,oneof=contact_unlock listing_post"`
	ReferenceID string           `json:"reference_id" validate:"required,max=200"`
}

// BalanceResponse is the current credit balance.
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// LedgerResponse is one page of ledger entries, newest first.
type LedgerResponse struct {
	Entries []model.CreditLedgerEntry `json:"entries"`
	Limit   int                       `json:"limit"`
	Offset  int                       `json:"offset"`
}
