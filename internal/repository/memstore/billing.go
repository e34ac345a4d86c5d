package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gatekeeper/internal/model"
	"gatekeeper/internal/repository"

	"github.com/google/uuid"
)

type subscriptionRepo struct{ db *DB }

func (r subscriptionRepo) UpsertFromCheckout(ctx context.Context, in model.UpsertSubscriptionInput) (*model.Subscription, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	sub, ok := r.db.subscriptions[in.ProviderSubscriptionID]
	if ok && sub.LastEventAt.After(in.EventAt) {
		return &sub, nil
	}
	r.db.cancelActiveLocked(in.UserID, in.Scope)

	now := time.Now()
	for id, other := range r.db.subscriptions {
		if id != in.ProviderSubscriptionID && other.UserID == in.UserID && other.Scope == in.Scope &&
			other.Status != model.SubscriptionCancelled {
			other.Status = model.SubscriptionCancelled
			other.UpdatedAt = now
			r.db.subscriptions[id] = other
		}
	}
	if !ok {
		sub = model.Subscription{ID: uuid.NewString(), CreatedAt: now}
	}
	sub.UserID = in.UserID
	sub.ProductID = in.ProductID
	sub.Scope = in.Scope
	sub.Status = in.Status
	sub.ProviderSubscriptionID = in.ProviderSubscriptionID
	if in.ProviderCustomerID != nil {
		sub.ProviderCustomerID = in.ProviderCustomerID
	}
	sub.CurrentPeriodStart = in.PeriodStart
	sub.CurrentPeriodEnd = in.PeriodEnd
	sub.CancelAtPeriodEnd = in.CancelAtPeriodEnd
	sub.LastEventAt = in.EventAt
	sub.UpdatedAt = now
	r.db.subscriptions[in.ProviderSubscriptionID] = sub
	return &sub, nil
}

func (r subscriptionRepo) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*model.Subscription, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	sub, ok := r.db.subscriptions[providerSubscriptionID]
	if !ok {
		return nil, fmt.Errorf("fetch subscription %s: %w", providerSubscriptionID, model.ErrNotFound)
	}
	return &sub, nil
}

func (r subscriptionRepo) Mutate(ctx context.Context, providerSubscriptionID string, fn func(sub *model.Subscription) (bool, error)) (*model.Subscription, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	cur, ok := r.db.subscriptions[providerSubscriptionID]
	if !ok {
		return nil, fmt.Errorf("lock subscription %s: %w", providerSubscriptionID, model.ErrNotFound)
	}
	next := cur
	changed, err := fn(&next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &cur, nil
	}
	next.UpdatedAt = time.Now()
	r.db.subscriptions[providerSubscriptionID] = next
	return &next, nil
}

func (r subscriptionRepo) ListLive(ctx context.Context, userID string) ([]model.Subscription, error) {
	return r.list(ctx, func(s model.Subscription) bool { return s.UserID == userID && s.Live() })
}

func (r subscriptionRepo) ListByUser(ctx context.Context, userID string) ([]model.Subscription, error) {
	return r.list(ctx, func(s model.Subscription) bool { return s.UserID == userID })
}

func (r subscriptionRepo) list(ctx context.Context, keep func(model.Subscription) bool) ([]model.Subscription, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	var out []model.Subscription
	for _, s := range r.db.subscriptions {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type usageRepo struct{ db *DB }

func usageKey(userID, productID, metricKey string, periodStart time.Time) string {
	return userID + "|" + productID + "|" + metricKey + "|" + periodStart.UTC().Format(time.RFC3339Nano)
}

func (r usageRepo) InitPeriods(ctx context.Context, periods []model.IncludedUsagePeriod) error {
	if err := r.db.lock(ctx); err != nil {
		return err
	}
	defer r.db.mu.Unlock()
	r.db.initUsageLocked(periods)
	return nil
}

func (db *DB) initUsageLocked(periods []model.IncludedUsagePeriod) {
	for _, p := range periods {
		key := usageKey(p.UserID, p.ProductID, p.MetricKey, p.PeriodStart)
		if _, ok := db.usage[key]; ok {
			continue
		}
		p.ID = uuid.NewString()
		p.MetricValue = 0
		db.usage[key] = p
	}
}

func (db *DB) currentUsageLocked(userID, productID, metricKey string, at time.Time) (string, model.IncludedUsagePeriod, bool) {
	var (
		bestKey string
		best    model.IncludedUsagePeriod
		found   bool
	)
	for key, u := range db.usage {
		if u.UserID != userID || u.ProductID != productID || u.MetricKey != metricKey {
			continue
		}
		if u.PeriodStart.After(at) || !u.PeriodEnd.After(at) {
			continue
		}
		if !found || u.PeriodStart.After(best.PeriodStart) {
			bestKey, best, found = key, u, true
		}
	}
	return bestKey, best, found
}

func (r usageRepo) Current(ctx context.Context, userID, productID, metricKey string, at time.Time) (*model.IncludedUsagePeriod, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	_, u, ok := r.db.currentUsageLocked(userID, productID, metricKey, at)
	if !ok {
		return nil, fmt.Errorf("fetch %s usage for user %s: %w", metricKey, userID, model.ErrNotFound)
	}
	return &u, nil
}

func (r usageRepo) Consume(ctx context.Context, userID, productID, metricKey string, at time.Time, limit int64) (*model.IncludedUsagePeriod, bool, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, false, err
	}
	defer r.db.mu.Unlock()
	key, u, ok := r.db.currentUsageLocked(userID, productID, metricKey, at)
	if !ok {
		return nil, false, fmt.Errorf("fetch %s usage for user %s: %w", metricKey, userID, model.ErrNotFound)
	}
	if u.MetricValue >= limit {
		return &u, false, nil
	}
	u.MetricValue++
	r.db.usage[key] = u
	return &u, true, nil
}

type ledgerRepo struct{ db *DB }

func (r ledgerRepo) Append(ctx context.Context, in model.AppendCreditInput) (*model.CreditLedgerEntry, bool, error) {
	if in.Delta == 0 {
		return nil, false, fmt.Errorf("ledger append with zero delta: %w", model.ErrInvalidInput)
	}
	if in.At.IsZero() {
		in.At = time.Now()
	}
	if err := r.db.lock(ctx); err != nil {
		return nil, false, err
	}
	defer r.db.mu.Unlock()

	entries := r.db.ledger[in.UserID]
	if in.OncePerMonth {
		start, end := repository.MonthBounds(in.At)
		for _, e := range entries {
			if e.CreditType == in.CreditType && !e.CreatedAt.Before(start) && e.CreatedAt.Before(end) {
				return nil, false, nil
			}
		}
	}
	var seq, balance int64
	if n := len(entries); n > 0 {
		seq, balance = entries[n-1].Seq, entries[n-1].BalanceAfter
	}
	next := balance + in.Delta
	if next < 0 {
		return nil, false, fmt.Errorf("deduct %d from balance %d for user %s: %w", -in.Delta, balance, in.UserID, model.ErrInsufficientFunds)
	}
	entry := model.CreditLedgerEntry{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		Seq:           seq + 1,
		Delta:         in.Delta,
		CreditType:    in.CreditType,
		Reference:     in.Reference,
		BalanceBefore: balance,
		BalanceAfter:  next,
		CreatedAt:     in.At,
	}
	r.db.ledger[in.UserID] = append(entries, entry)
	return &entry, true, nil
}

func (r ledgerRepo) Balance(ctx context.Context, userID string) (int64, error) {
	if err := r.db.lock(ctx); err != nil {
		return 0, err
	}
	defer r.db.mu.Unlock()
	entries := r.db.ledger[userID]
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].BalanceAfter, nil
}

func (r ledgerRepo) List(ctx context.Context, userID string, limit, offset int) ([]model.CreditLedgerEntry, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	entries := r.db.ledger[userID]
	var out []model.CreditLedgerEntry
	for i := len(entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (r ledgerRepo) Summary(ctx context.Context, userID string, monthStart time.Time) (*model.CreditSummary, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	summary := &model.CreditSummary{SpendingBreakdown: map[model.CreditType]int64{}}
	entries := r.db.ledger[userID]
	for _, e := range entries {
		switch {
		case e.Delta > 0 && e.CreditType == model.CreditPurchase:
			summary.TotalPurchased += e.Delta
		case e.Delta < 0:
			summary.TotalSpent += -e.Delta
			summary.SpendingBreakdown[e.CreditType] += -e.Delta
			if !e.CreatedAt.Before(monthStart) {
				summary.SpentThisMonth += -e.Delta
			}
		}
	}
	if n := len(entries); n > 0 {
		summary.Balance = entries[n-1].BalanceAfter
	}
	return summary, nil
}

// LedgerEntries returns a copy of a user's ledger in append order.
func (db *DB) LedgerEntries(userID string) []model.CreditLedgerEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]model.CreditLedgerEntry(nil), db.ledger[userID]...)
}

// UsagePeriods returns a copy of the user's usage rows for one metric, oldest period first.
func (db *DB) UsagePeriods(userID, metricKey string) []model.IncludedUsagePeriod {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []model.IncludedUsagePeriod
	for _, u := range db.usage {
		if u.UserID == userID && u.MetricKey == metricKey {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out
}
