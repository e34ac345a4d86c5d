// Package memstore is an in-process implementation of the repository
// interfaces. A single mutex stands in for database transactions, so every
// method is atomic with respect to every other.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gatekeeper/internal/model"
	"gatekeeper/internal/repository"

	"github.com/google/uuid"
)

// DB holds all in-memory tables.
type DB struct {
	mu sync.Mutex

	products      map[string]model.BillingProduct
	entitlements  map[string][]model.Entitlement
	passes        map[string]model.Pass
	subscriptions map[string]model.Subscription // keyed by provider subscription id
	usage         map[string]model.IncludedUsagePeriod
	ledger        map[string][]model.CreditLedgerEntry
	events        map[string]eventRow
	purchases     map[string]model.PassPurchase
	customers     map[string]model.BillingCustomer
	listings      map[string]int64
	rfqs          map[string]int64

	failErr error
}

type eventRow struct {
	event       model.LifecycleEvent
	processedAt *time.Time
	procErr     string
}

// New returns an empty database.
func New() *DB {
	return &DB{
		products:      map[string]model.BillingProduct{},
		entitlements:  map[string][]model.Entitlement{},
		passes:        map[string]model.Pass{},
		subscriptions: map[string]model.Subscription{},
		usage:         map[string]model.IncludedUsagePeriod{},
		ledger:        map[string][]model.CreditLedgerEntry{},
		events:        map[string]eventRow{},
		purchases:     map[string]model.PassPurchase{},
		customers:     map[string]model.BillingCustomer{},
		listings:      map[string]int64{},
		rfqs:          map[string]int64{},
	}
}

// Store exposes the database through the repository interfaces.
func (db *DB) Store() *repository.Store {
	return &repository.Store{
		Products:      productRepo{db},
		Passes:        passRepo{db},
		Subscriptions: subscriptionRepo{db},
		Usage:         usageRepo{db},
		Ledger:        ledgerRepo{db},
		Events:        eventRepo{db},
		Purchases:     purchaseRepo{db},
		Customers:     customerRepo{db},
		Listings:      counters{db},
		Rfqs:          counters{db},
	}
}

// FailWith makes every subsequent call return err until it is called with nil.
func (db *DB) FailWith(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failErr = err
}

// SetActiveListings sets the collaborator-owned active listing count.
func (db *DB) SetActiveListings(userID, listingType string, n int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.listings[userID+"|"+listingType] = n
}

// SetActiveRfqResponses sets the collaborator-owned active RFQ response count.
func (db *DB) SetActiveRfqResponses(vendorID string, n int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rfqs[vendorID] = n
}

// ActivePassCount counts active passes for a user in a scope.
func (db *DB) ActivePassCount(userID, scope string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.activePassCountLocked(userID, scope)
}

// lock acquires the mutex and reports an injected failure, if any. Callers
// must defer unlock only when err is nil.
func (db *DB) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	db.mu.Lock()
	if db.failErr != nil {
		err := db.failErr
		db.mu.Unlock()
		return err
	}
	return nil
}

func (db *DB) activePassCountLocked(userID, scope string) int {
	n := 0
	for _, p := range db.passes {
		if p.UserID == userID && p.Scope == scope && p.Status == model.PassStatusActive {
			n++
		}
	}
	return n
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type productRepo struct{ db *DB }

func (r productRepo) GetByID(ctx context.Context, id string) (*model.BillingProduct, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	p, ok := r.db.products[id]
	if !ok {
		return nil, fmt.Errorf("fetch product %s: %w", id, model.ErrNotFound)
	}
	return &p, nil
}

func (r productRepo) GetByCode(ctx context.Context, code string) (*model.BillingProduct, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	for _, p := range r.db.products {
		if p.Code == code {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("fetch product by code %s: %w", code, model.ErrNotFound)
}

func (r productRepo) ListActive(ctx context.Context) ([]model.BillingProduct, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	var out []model.BillingProduct
	for _, p := range r.db.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		return out[i].TierRank < out[j].TierRank
	})
	return out, nil
}

func (r productRepo) ListEntitlements(ctx context.Context, productIDs []string) (map[string][]model.Entitlement, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	out := make(map[string][]model.Entitlement, len(productIDs))
	for _, id := range productIDs {
		if ents, ok := r.db.entitlements[id]; ok {
			out[id] = append([]model.Entitlement(nil), ents...)
		}
	}
	return out, nil
}

func (r productRepo) Upsert(ctx context.Context, p *model.BillingProduct, ents []model.Entitlement) error {
	if err := r.db.lock(ctx); err != nil {
		return err
	}
	defer r.db.mu.Unlock()
	for id, existing := range r.db.products {
		if existing.Code == p.Code {
			p.ID = id
			p.CreatedAt = existing.CreatedAt
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	stored := make([]model.Entitlement, 0, len(ents))
	for _, e := range ents {
		if !e.Value.Valid() {
			return fmt.Errorf("entitlement %s: %w", e.Key, model.ErrInvalidInput)
		}
		e.ProductID = p.ID
		stored = append(stored, e)
	}
	r.db.products[p.ID] = *p
	r.db.entitlements[p.ID] = stored
	return nil
}

type passRepo struct{ db *DB }

func (r passRepo) Activate(ctx context.Context, in model.ActivatePassInput) (*model.Pass, bool, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, false, err
	}
	defer r.db.mu.Unlock()

	for _, p := range r.db.passes {
		if p.UserID == in.UserID && p.ProductID == in.ProductID && p.PurchaseRef == in.PurchaseRef {
			r.db.initUsageLocked(boundUsage(p, in.Usage))
			return &p, false, nil
		}
	}
	if r.db.activePassCountLocked(in.UserID, in.Scope) > 1 {
		return nil, false, fmt.Errorf("user %s has several active %s passes: %w", in.UserID, in.Scope, model.ErrInvariantViolation)
	}

	now := time.Now()
	for id, p := range r.db.passes {
		if p.UserID == in.UserID && p.Scope == in.Scope && p.Status == model.PassStatusActive {
			p.Status = model.PassStatusCancelled
			p.UpdatedAt = now
			r.db.passes[id] = p
		}
	}
	pass := model.Pass{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		ProductID:   in.ProductID,
		Scope:       in.Scope,
		Status:      model.PassStatusActive,
		StartsAt:    in.StartsAt,
		EndsAt:      in.EndsAt,
		PurchaseRef: in.PurchaseRef,
		Metadata:    copyMeta(in.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.db.passes[pass.ID] = pass
	r.db.initUsageLocked(boundUsage(pass, in.Usage))
	return &pass, true, nil
}

func boundUsage(p model.Pass, usage []model.IncludedUsagePeriod) []model.IncludedUsagePeriod {
	out := make([]model.IncludedUsagePeriod, len(usage))
	for i, u := range usage {
		u.PeriodStart, u.PeriodEnd = p.StartsAt, p.EndsAt
		out[i] = u
	}
	return out
}

func (r passRepo) GetByID(ctx context.Context, id string) (*model.Pass, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	p, ok := r.db.passes[id]
	if !ok {
		return nil, fmt.Errorf("fetch pass %s: %w", id, model.ErrNotFound)
	}
	return &p, nil
}

func (r passRepo) ListLive(ctx context.Context, userID string, now time.Time) ([]model.Pass, error) {
	return r.list(ctx, func(p model.Pass) bool { return p.UserID == userID && p.LiveAt(now) })
}

func (r passRepo) ListByUser(ctx context.Context, userID string) ([]model.Pass, error) {
	return r.list(ctx, func(p model.Pass) bool { return p.UserID == userID })
}

func (r passRepo) list(ctx context.Context, keep func(model.Pass) bool) ([]model.Pass, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	var out []model.Pass
	for _, p := range r.db.passes {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r passRepo) Cancel(ctx context.Context, id string) (*model.Pass, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	p, ok := r.db.passes[id]
	if !ok {
		return nil, fmt.Errorf("cancel pass %s: %w", id, model.ErrNotFound)
	}
	if p.Status == model.PassStatusActive {
		p.Status = model.PassStatusCancelled
		p.UpdatedAt = time.Now()
		r.db.passes[id] = p
	}
	return &p, nil
}

func (db *DB) cancelActiveLocked(userID, scope string) int64 {
	var n int64
	now := time.Now()
	for id, p := range db.passes {
		if p.UserID == userID && p.Scope == scope && p.Status == model.PassStatusActive {
			p.Status = model.PassStatusCancelled
			p.UpdatedAt = now
			db.passes[id] = p
			n++
		}
	}
	return n
}

func (r passRepo) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	if err := r.db.lock(ctx); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()
	seen := map[string]struct{}{}
	var users []string
	for id, p := range r.db.passes {
		if p.Status != model.PassStatusActive || p.EndsAt.After(now) {
			continue
		}
		p.Status = model.PassStatusExpired
		p.UpdatedAt = now
		r.db.passes[id] = p
		if _, ok := seen[p.UserID]; !ok {
			seen[p.UserID] = struct{}{}
			users = append(users, p.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}
