package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatekeeper/internal/cache"
	"gatekeeper/internal/model"
	"gatekeeper/internal/repository/memstore"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostingGate(t *testing.T) {
	tests := []struct {
		name        string
		pass        string
		listingType string
		active      int64
		wantAllowed bool
		wantSource  model.DecisionSource
		wantLimit   int64
		wantOver    bool
		wantReason  string
	}{
		{name: "free tier below cap", listingType: model.ListingJob, active: 1, wantAllowed: true, wantSource: model.DecisionIncluded, wantLimit: 2},
		{name: "free tier at cap bills credits", listingType: model.ListingJob, active: 2, wantAllowed: true, wantSource: model.DecisionCredits, wantLimit: 2, wantOver: true, wantReason: model.ReasonLimitReached},
		{name: "free tier over cap bills credits", listingType: model.ListingGig, active: 7, wantAllowed: true, wantSource: model.DecisionCredits, wantLimit: 2, wantOver: true, wantReason: model.ReasonLimitReached},
		{name: "pro pass raises job cap", pass: "employer_pro", listingType: model.ListingJob, active: 5, wantAllowed: true, wantSource: model.DecisionIncluded, wantLimit: 10},
		{name: "pro pass gig cap", pass: "employer_pro", listingType: model.ListingGig, active: 5, wantAllowed: true, wantSource: model.DecisionCredits, wantLimit: 5, wantOver: true, wantReason: model.ReasonLimitReached},
		{name: "unknown listing type", listingType: "internship", wantSource: model.DecisionBlocked, wantReason: model.ReasonUnknownListing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.pass != "" {
				f.activate(t, "employer-1", tt.pass, "ref-1")
			}
			f.db.SetActiveListings("employer-1", tt.listingType, tt.active)

			d := f.engine.CheckGate(context.Background(), "employer-1", model.GatePosting, model.GateParams{ListingType: tt.listingType})

			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantSource, d.Source)
			assert.Equal(t, tt.wantOver, d.OverLimit)
			assert.Equal(t, tt.wantReason, d.Reason)
			if tt.wantLimit > 0 {
				require.NotNil(t, d.Limit)
				assert.Equal(t, tt.wantLimit, *d.Limit)
				require.NotNil(t, d.Used)
				assert.Equal(t, tt.active, *d.Used)
			}
		})
	}
}

func TestPostingGateUnlimited(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "employer-1", "employer_unlimited", "ref-1")
	f.db.SetActiveListings("employer-1", model.ListingJob, 500)

	d := f.engine.Gates.CheckPostingGate(context.Background(), "employer-1", model.ListingJob)
	assert.True(t, d.Allowed)
	assert.Equal(t, model.DecisionIncluded, d.Source)
	assert.True(t, d.Unlimited)
}

func TestRfqResponseGate(t *testing.T) {
	tests := []struct {
		name          string
		pass          string
		active        int64
		wantAllowed   bool
		wantSource    model.DecisionSource
		wantUpgrade   bool
		wantUnlimited bool
	}{
		{name: "free tier below cap", active: 2, wantAllowed: true, wantSource: model.DecisionIncluded},
		{name: "free tier at cap is a hard stop", active: 3, wantSource: model.DecisionBlocked, wantUpgrade: true},
		{name: "silver pass below cap", pass: "vendor_silver", active: 9, wantAllowed: true, wantSource: model.DecisionIncluded},
		{name: "silver pass at cap", pass: "vendor_silver", active: 10, wantSource: model.DecisionBlocked, wantUpgrade: true},
		{name: "gold pass is unlimited", pass: "vendor_gold", active: 250, wantAllowed: true, wantSource: model.DecisionIncluded, wantUnlimited: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.pass != "" {
				f.activate(t, "vendor-1", tt.pass, "ref-1")
			}
			f.db.SetActiveRfqResponses("vendor-1", tt.active)

			d := f.engine.CheckGate(context.Background(), "vendor-1", model.GateRfqResponse, model.GateParams{})

			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantSource, d.Source)
			assert.Equal(t, tt.wantUpgrade, d.UpgradeSuggested)
			assert.Equal(t, tt.wantUnlimited, d.Unlimited)
			if !tt.wantAllowed {
				assert.Equal(t, model.ReasonLimitReached, d.Reason)
			}
		})
	}
}

func TestFeatureGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.engine.CheckGate(ctx, "u1", model.GateFeature, model.GateParams{FeatureKey: featureVendorAnalytics})
	assert.False(t, d.Allowed)
	assert.Equal(t, model.DecisionBlocked, d.Source)
	assert.Equal(t, model.ReasonFeatureDisabled, d.Reason)
	assert.True(t, d.UpgradeSuggested)

	f.activate(t, "u1", "vendor_gold", "ref-1")

	d = f.engine.CheckGate(ctx, "u1", model.GateFeature, model.GateParams{FeatureKey: featureVendorAnalytics})
	assert.True(t, d.Allowed)
	assert.Equal(t, model.DecisionIncluded, d.Source)

	// Flags are looked up across every scope.
	f.activate(t, "u1", "employer_pro", "ref-2")
	d = f.engine.CheckGate(ctx, "u1", model.GateFeature, model.GateParams{FeatureKey: featureFeaturedListings})
	assert.True(t, d.Allowed)
}

func TestTierGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.engine.Gates.CheckTierGate(ctx, "vendor-1", model.ScopeVendor, "silver")
	assert.False(t, d.Allowed)
	assert.Equal(t, model.ReasonTierTooLow, d.Reason)
	assert.Equal(t, model.TierFree, d.CurrentTier)
	assert.Equal(t, "silver", d.RequiredTier)
	assert.True(t, d.UpgradeSuggested)

	d = f.engine.Gates.CheckTierGate(ctx, "vendor-1", model.ScopeVendor, model.TierFree)
	assert.True(t, d.Allowed)

	d = f.engine.Gates.CheckTierGate(ctx, "vendor-1", model.ScopeVendor, "platinum")
	assert.False(t, d.Allowed)
	assert.Equal(t, model.ReasonUnknownTier, d.Reason)

	// A tier name is only meaningful within its own scope.
	d = f.engine.Gates.CheckTierGate(ctx, "vendor-1", model.ScopeEmployer, "gold")
	assert.Equal(t, model.ReasonUnknownTier, d.Reason)
}

func TestTierGateAfterDowngrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gold := f.activate(t, "vendor-1", "vendor_gold", "ref-gold")
	d := f.engine.CheckGate(ctx, "vendor-1", model.GateTier, model.GateParams{Scope: model.ScopeVendor, RequiredTier: "gold"})
	require.True(t, d.Allowed)

	silver := f.activate(t, "vendor-1", "vendor_silver", "ref-silver")
	assert.Equal(t, model.PassStatusActive, silver.Status)

	prior, err := f.store.Passes.GetByID(ctx, gold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PassStatusCancelled, prior.Status)
	assert.Equal(t, 1, f.db.ActivePassCount("vendor-1", model.ScopeVendor))

	d = f.engine.CheckGate(ctx, "vendor-1", model.GateTier, model.GateParams{Scope: model.ScopeVendor, RequiredTier: "gold"})
	assert.False(t, d.Allowed)
	assert.Equal(t, "silver", d.CurrentTier)
	assert.Equal(t, "gold", d.RequiredTier)
}

func TestGatesFailClosed(t *testing.T) {
	f := newFixture(t)
	f.db.FailWith(errors.New("connection refused"))
	ctx := context.Background()

	checks := map[string]model.Decision{
		"posting":        f.engine.CheckGate(ctx, "u1", model.GatePosting, model.GateParams{ListingType: model.ListingJob}),
		"contact_unlock": f.engine.CheckGate(ctx, "u1", model.GateContactUnlock, model.GateParams{}),
		"rfq_response":   f.engine.CheckGate(ctx, "u1", model.GateRfqResponse, model.GateParams{}),
		"feature":        f.engine.CheckGate(ctx, "u1", model.GateFeature, model.GateParams{FeatureKey: featureVendorAnalytics}),
		"tier":           f.engine.CheckGate(ctx, "u1", model.GateTier, model.GateParams{Scope: model.ScopeVendor, RequiredTier: "gold"}),
	}
	for name, d := range checks {
		assert.Equal(t, model.Unavailable(), d, name)
	}
}

func TestGateFailsClosedWhenCollaboratorFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Warm the cache, then break the store so only the listing count fails.
	_, err := f.caps.Get(ctx, "u1")
	require.NoError(t, err)
	f.db.FailWith(errors.New("connection reset"))

	d := f.engine.Gates.CheckPostingGate(ctx, "u1", model.ListingJob)
	assert.False(t, d.Allowed)
	assert.Equal(t, model.ReasonUnavailable, d.Reason)
	assert.False(t, d.UpgradeSuggested, "an outage is not an upsell")
}

type blockingCounter struct{}

func (blockingCounter) CountActiveListings(ctx context.Context, userID, listingType string) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (blockingCounter) CountActiveRfqResponses(ctx context.Context, vendorID string) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestGateTimeoutDenies(t *testing.T) {
	db := memstore.New()
	store := db.Store()
	store.Listings = blockingCounter{}
	store.Rfqs = blockingCounter{}
	logger := zerolog.Nop()
	caps := cache.NewMemory(NewCapabilityService(store, logger))
	gates := NewGateService(caps, NewQuotaService(caps, store.Usage, logger), store, 20*time.Millisecond, logger)

	start := time.Now()
	d := gates.CheckPostingGate(context.Background(), "u1", model.ListingJob)
	assert.Equal(t, model.Unavailable(), d)
	assert.Less(t, time.Since(start), 5*time.Second)

	d = gates.CheckRfqResponseGate(context.Background(), "u1")
	assert.Equal(t, model.Unavailable(), d)
}

func TestUnknownGate(t *testing.T) {
	f := newFixture(t)
	d := f.engine.CheckGate(context.Background(), "u1", model.GateType("teleport"), model.GateParams{})
	assert.False(t, d.Allowed)
	assert.Equal(t, model.DecisionBlocked, d.Source)
}
