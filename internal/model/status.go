package model

import "time"

// BillingStatus is the account overview returned to a user.
type BillingStatus struct {
	UserID          string                      `json:"user_id"`
	ActiveTiers     map[string]string           `json:"active_tiers"`
	ActiveUntil     map[string]*time.Time       `json:"active_until"`
	Passes          []Pass                      `json:"passes"`
	Subscriptions   []Subscription              `json:"subscriptions"`
	RecentPurchases []PassPurchase              `json:"recent_purchases"`
	Products        map[string][]BillingProduct `json:"products"`
	CreditBalance   int64                       `json:"credit_balance"`
}
