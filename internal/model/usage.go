package model

import "time"

// IncludedUsagePeriod counts consumption of one included allowance within a
// billing period of one product.
type IncludedUsagePeriod struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	ProductID   string    `db:"product_id" json:"product_id"`
	Scope       string    `db:"scope" json:"scope"`
	MetricKey   string    `db:"metric_key" json:"metric_key"`
	PeriodStart time.Time `db:"period_start" json:"period_start"`
	PeriodEnd   time.Time `db:"period_end" json:"period_end"`
	MetricValue int64     `db:"metric_value" json:"metric_value"`
}

// QuotaStatus is the remaining allowance for one metric.
type QuotaStatus struct {
	MetricKey string `json:"metric_key"`
	Limit     int64  `json:"limit"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

// ConsumeResult reports the outcome of consuming one unit of an allowance.
type ConsumeResult struct {
	Consumed  bool  `json:"consumed"`
	Remaining int64 `json:"remaining"`
}
