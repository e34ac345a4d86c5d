package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"gatekeeper/internal/cache"
	"gatekeeper/internal/model"
	"gatekeeper/internal/repository"
	"gatekeeper/internal/repository/memstore"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	featureFeaturedListings = "employer.listings.featured"
	featureVendorAnalytics  = "vendor.analytics"
)

type fixture struct {
	db       *memstore.DB
	store    *repository.Store
	caps     *cache.Memory
	notifier *recordingNotifier
	engine   *BillingEngine
	products map[string]*model.BillingProduct
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memstore.New()
	store := db.Store()
	logger := zerolog.Nop()
	caps := cache.NewMemory(NewCapabilityService(store, logger))
	notifier := &recordingNotifier{}
	f := &fixture{
		db:       db,
		store:    store,
		caps:     caps,
		notifier: notifier,
		engine:   NewBillingEngine(store, caps, notifier, time.Second, logger),
		products: map[string]*model.BillingProduct{},
	}
	f.seedCatalog(t)
	return f
}

func (f *fixture) seedCatalog(t *testing.T) {
	t.Helper()
	catalog := []struct {
		product model.BillingProduct
		ents    []model.Entitlement
	}{
		{
			product: model.BillingProduct{Code: "employer_pro", Name: "Employer Pro", Scope: model.ScopeEmployer, Tier: "pro", TierRank: 1,
				BillingMode: model.BillingModeBoth, DurationDays: 30, PriceCents: 250000, Currency: "KES", Active: true},
			ents: []model.Entitlement{
				{Key: model.KeyContactUnlocksIncluded, Value: model.Numeric(10)},
				{Key: model.KeyJobPostsMaxActive, Value: model.Numeric(10)},
				{Key: model.KeyGigPostsMaxActive, Value: model.Numeric(5)},
				{Key: featureFeaturedListings, Value: model.Flag(true)},
			},
		},
		{
			product: model.BillingProduct{Code: "employer_unlimited", Name: "Employer Unlimited", Scope: model.ScopeEmployer, Tier: "unlimited", TierRank: 2,
				BillingMode: model.BillingModePass, DurationDays: 30, PriceCents: 900000, Currency: "KES", Active: true},
			ents: []model.Entitlement{
				{Key: model.KeyContactUnlocksIncluded, Value: model.Numeric(model.Unlimited)},
				{Key: model.KeyJobPostsMaxActive, Value: model.Numeric(999)},
			},
		},
		{
			product: model.BillingProduct{Code: "vendor_silver", Name: "Vendor Silver", Scope: model.ScopeVendor, Tier: "silver", TierRank: 1,
				BillingMode: model.BillingModePass, DurationDays: 30, PriceCents: 150000, Currency: "KES", Active: true},
			ents: []model.Entitlement{
				{Key: model.KeyRfqResponsesMaxActive, Value: model.Numeric(10)},
			},
		},
		{
			product: model.BillingProduct{Code: "vendor_gold", Name: "Vendor Gold", Scope: model.ScopeVendor, Tier: "gold", TierRank: 2,
				BillingMode: model.BillingModeBoth, DurationDays: 30, PriceCents: 400000, Currency: "KES", Active: true},
			ents: []model.Entitlement{
				{Key: model.KeyRfqResponsesMaxActive, Value: model.Numeric(model.Unlimited)},
				{Key: featureVendorAnalytics, Value: model.Flag(true)},
			},
		},
	}
	for _, c := range catalog {
		p := c.product
		require.NoError(t, f.store.Products.Upsert(context.Background(), &p, c.ents))
		f.products[p.Code] = &p
	}
}

func (f *fixture) activate(t *testing.T, userID, code, ref string) *model.Pass {
	t.Helper()
	pass, err := f.engine.ActivatePass(context.Background(), userID, f.products[code].ID, ref, nil)
	require.NoError(t, err)
	require.NotNil(t, pass)
	return pass
}

func (f *fixture) event(t *testing.T, id string, typ model.EventType, at time.Time, payload any) model.LifecycleEvent {
	t.Helper()
	e, err := model.NewLifecycleEvent(id, model.EventSourceStripe, typ, "", at, payload)
	require.NoError(t, err)
	return e
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []model.EntitlementsChanged
}

func (n *recordingNotifier) NotifyEntitlementsChanged(ctx context.Context, msg model.EntitlementsChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) users() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.msgs {
		out = append(out, m.UserID)
	}
	return out
}
