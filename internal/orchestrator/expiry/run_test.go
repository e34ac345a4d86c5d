package expiry

import (
	"context"
	"testing"
	"time"

	"gatekeeper/internal/cache"
	"gatekeeper/internal/model"
	"gatekeeper/internal/repository/memstore"
	"gatekeeper/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls chan time.Time
}

func (e *countingExpirer) ExpirePasses(ctx context.Context, now time.Time) (int, error) {
	select {
	case e.calls <- now:
	default:
	}
	return 0, nil
}

func TestSweepExpiresOverduePasses(t *testing.T) {
	db := memstore.New()
	store := db.Store()
	logger := zerolog.Nop()
	engine := service.NewBillingEngine(store, cache.NewMemory(service.NewCapabilityService(store, logger)), nil, time.Second, logger)
	ctx := context.Background()

	product := &model.BillingProduct{Code: "vendor_silver", Name: "Vendor Silver", Scope: model.ScopeVendor, Tier: "silver", TierRank: 1,
		BillingMode: model.BillingModePass, DurationDays: 30, PriceCents: 150000, Currency: "KES", Active: true}
	require.NoError(t, store.Products.Upsert(ctx, product, nil))
	_, err := engine.ActivatePass(ctx, "vendor-1", product.ID, "order-1", nil)
	require.NoError(t, err)
	require.Equal(t, 1, db.ActivePassCount("vendor-1", model.ScopeVendor))

	assert.Equal(t, 0, Sweep(ctx, logger, engine.Reconciler, time.Now()))
	assert.Equal(t, 1, Sweep(ctx, logger, engine.Reconciler, time.Now().Add(31*24*time.Hour)))
	assert.Equal(t, 0, db.ActivePassCount("vendor-1", model.ScopeVendor))
}

func TestRunSweepsImmediatelyAndStops(t *testing.T) {
	e := &countingExpirer{calls: make(chan time.Time, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, zerolog.Nop(), e, time.Hour) }()

	select {
	case <-e.calls:
	case <-time.After(time.Second):
		t.Fatal("no sweep at startup")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("expiry orchestrator did not stop")
	}
}
