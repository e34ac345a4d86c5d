package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gatekeeper/internal/model"

	"github.com/google/uuid"
)

type eventRepo struct{ db *DB }

func (r eventRepo) Record(ctx context.Context, e model.LifecycleEvent) (bool, error) {
	if err := r.db.lock(ctx); err != nil {
		return false, err
	}
	defer r.db.mu.Unlock()
	key := string(e.Source) + "|" + e.ID
	if _, ok := r.db.events[key]; ok {
		return false, nil
	}
	r.db.events[key] = eventRow{event: e}
	return true, nil
}

func (r eventRepo) MarkProcessed(ctx context.Context, source model.EventSource, eventID string, procErr error) error {
	if err := r.db.lock(ctx); err != nil {
		return err
	}
	defer r.db.mu.Unlock()
	key := string(source) + "|" + eventID
	row, ok := r.db.events[key]
	if !ok {
		return nil
	}
	if procErr != nil {
		row.procErr = procErr.Error()
	} else {
		now := time.Now()
		row.processedAt = &now
		row.procErr = ""
	}
	r.db.events[key] = row
	return nil
}

// EventCount returns the number of distinct audited events.
func (db *DB) EventCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.events)
}

// EventProcessed reports whether an audited event was processed successfully.
func (db *DB) EventProcessed(source model.EventSource, eventID string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	row, ok := db.events[string(source)+"|"+eventID]
	return ok && row.processedAt != nil
}

type purchaseRepo struct{ db *DB }

func (r purchaseRepo) Create(ctx context.Context, p *model.PassPurchase) error {
	if err := r.db.lock(ctx); err != nil {
		return err
	}
	defer r.db.mu.Unlock()
	key := p.Provider + "|" + p.ProviderRef
	if _, ok := r.db.purchases[key]; ok {
		return nil
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = model.PurchaseInitiated
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.db.purchases[key] = *p
	return nil
}

func (r purchaseRepo) MarkStatus(ctx context.Context, provider, providerRef string, status model.PurchaseStatus) error {
	if err := r.db.lock(ctx); err != nil {
		return err
	}
	defer r.db.mu.Unlock()
	key := provider + "|" + providerRef
	p, ok := r.db.purchases[key]
	if !ok {
		return fmt.Errorf("purchase %s/%s: %w", provider, providerRef, model.ErrNotFound)
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	r.db.purchases[key] = p
	return nil
}

func (r purchaseRepo) ListRecent(ctx context.Context, userID string, limit int) ([]model.PassPurchase, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	var out []model.PassPurchase
	for _, p := range r.db.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type customerRepo struct{ db *DB }

func (r customerRepo) Get(ctx context.Context, userID string) (*model.BillingCustomer, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	c, ok := r.db.customers[userID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r customerRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*model.BillingCustomer, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	for _, c := range r.db.customers {
		if c.StripeCustomerID != nil && *c.StripeCustomerID == customerID {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("fetch customer by stripe id %s: %w", customerID, model.ErrNotFound)
}

func (r customerRepo) Upsert(ctx context.Context, userID, email string) (*model.BillingCustomer, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	now := time.Now()
	c, ok := r.db.customers[userID]
	if !ok {
		c = model.BillingCustomer{UserID: userID, CreatedAt: now}
	}
	if email != "" {
		c.Email = email
	}
	c.UpdatedAt = now
	r.db.customers[userID] = c
	return &c, nil
}

func (r customerRepo) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	if err := r.db.lock(ctx); err != nil {
		return err
	}
	defer r.db.mu.Unlock()
	c, ok := r.db.customers[userID]
	if !ok {
		return fmt.Errorf("customer %s: %w", userID, model.ErrNotFound)
	}
	c.StripeCustomerID = &customerID
	c.UpdatedAt = time.Now()
	r.db.customers[userID] = c
	return nil
}

type counters struct{ db *DB }

func (c counters) CountActiveListings(ctx context.Context, userID, listingType string) (int64, error) {
	if err := c.db.lock(ctx); err != nil {
		return 0, err
	}
	defer c.db.mu.Unlock()
	return c.db.listings[userID+"|"+listingType], nil
}

func (c counters) CountActiveRfqResponses(ctx context.Context, vendorID string) (int64, error) {
	if err := c.db.lock(ctx); err != nil {
		return 0, err
	}
	defer c.db.mu.Unlock()
	return c.db.rfqs[vendorID], nil
}
