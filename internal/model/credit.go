package model

import "time"

// CreditType classifies ledger entries.
type CreditType string

const (
	CreditPurchase       CreditType = "purchase"
	CreditBonus          CreditType = "bonus"
	CreditRefund         CreditType = "refund"
	CreditPromotional    CreditType = "promotional"
	CreditPlanAllocation CreditType = "plan_allocation"
	CreditContactUnlock  CreditType = "contact_unlock"
	CreditListingPost    CreditType = "listing_post"
)

// Credit prices of the actions billed outside the allowance.
const (
	ContactUnlockPrice int64 = 200
	ListingPostPrice   int64 = 100
)

var actionCosts = map[CreditType]int64{
	CreditContactUnlock: ContactUnlockPrice,
	CreditListingPost:   ListingPostPrice,
}

// ActionCost returns the credit price of a chargeable action. ok is false
// for credit types that are not actions, such as purchase or refund.
func ActionCost(t CreditType) (cost int64, ok bool) {
	cost, ok = actionCosts[t]
	return cost, ok
}

// CreditLedgerEntry is an immutable ledger row. Seq is dense per user,
// BalanceBefore equals the previous entry's BalanceAfter and
// BalanceAfter = BalanceBefore + Delta.
type CreditLedgerEntry struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	Seq           int64      `db:"seq" json:"seq"`
	Delta         int64      `db:"delta" json:"delta"`
	CreditType    CreditType `db:"credit_type" json:"credit_type"`
	Reference     *string    `db:"reference_id" json:"reference_id,omitempty"`
	BalanceBefore int64      `db:"balance_before" json:"balance_before"`
	BalanceAfter  int64      `db:"balance_after" json:"balance_after"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// AppendCreditInput describes one ledger append. A negative Delta is a
// deduction and fails with ErrInsufficientFunds when it would overdraw.
// When OncePerMonth is set the append is skipped if an entry of the same
// type already exists for the user in the calendar month of At.
type AppendCreditInput struct {
	UserID       string
	Delta        int64
	CreditType   CreditType
	Reference    *string
	At           time.Time
	OncePerMonth bool
}

// ChargeResult is returned to callers paying for an action with credits.
type ChargeResult struct {
	Success    bool   `json:"success"`
	Cost       int64  `json:"cost,omitempty"`
	NewBalance int64  `json:"new_balance"`
	Reason     string `json:"reason,omitempty"`
}

// CreditSummary aggregates a user's ledger.
type CreditSummary struct {
	Balance           int64                `json:"balance"`
	TotalPurchased    int64                `json:"total_purchased"`
	TotalSpent        int64                `json:"total_spent"`
	SpentThisMonth    int64                `json:"spent_this_month"`
	SpendingBreakdown map[CreditType]int64 `json:"spending_breakdown"`
}

// CreditPackage is a purchasable bundle of credits.
type CreditPackage struct {
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
}

// CreditPackages is the catalog offered to users topping up.
var CreditPackages = []CreditPackage{
	{Credits: 100, PriceCents: 50000, Currency: "KES"},
	{Credits: 500, PriceCents: 200000, Currency: "KES"},
	{Credits: 1000, PriceCents: 350000, Currency: "KES"},
	{Credits: 5000, PriceCents: 1500000, Currency: "KES"},
}
