package service

import (
	"context"
	"fmt"
	"time"

	"gatekeeper/internal/cache"
	"gatekeeper/internal/model"
	"gatekeeper/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const recentPurchasesLimit = 5

// BillingEngine is the entry point other services call before and after
// monetized actions. It owns one instance of every billing service.
type BillingEngine struct {
	Gates      GateService
	Quota      QuotaService
	Ledger     LedgerService
	Reconciler ReconcilerService

	caps   cache.Cache
	store  *repository.Store
	logger zerolog.Logger
}

// NewBillingEngine wires the billing services around a store and a capability cache.
func NewBillingEngine(store *repository.Store, caps cache.Cache, notifier Notifier, gateTimeout time.Duration, logger zerolog.Logger) *BillingEngine {
	quota := NewQuotaService(caps, store.Usage, logger)
	return &BillingEngine{
		Gates:      NewGateService(caps, quota, store, gateTimeout, logger),
		Quota:      quota,
		Ledger:     NewLedgerService(store.Ledger, logger),
		Reconciler: NewReconcilerService(store, caps, notifier, logger),
		caps:       caps,
		store:      store,
		logger:     logger.With().Str("service", "BillingEngine").Logger(),
	}
}

func (e *BillingEngine) CheckGate(ctx context.Context, userID string, gate model.GateType, params model.GateParams) model.Decision {
	return e.Gates.CheckGate(ctx, userID, gate, params)
}

// ConsumeIncluded takes one unit of an included allowance. Callers invoke it
// only after an included gate decision.
func (e *BillingEngine) ConsumeIncluded(ctx context.Context, userID, metricKey string) (*model.ConsumeResult, error) {
	return e.Quota.Consume(ctx, userID, metricKey)
}

// ChargeCredits deducts the catalog price of an action billed outside the
// allowance. The price is never taken from the caller.
func (e *BillingEngine) ChargeCredits(ctx context.Context, userID string, creditType model.CreditType, referenceID string) (*model.ChargeResult, error) {
	cost, ok := model.ActionCost(creditType)
	if !ok {
		return nil, fmt.Errorf("charge for %q: not a priced action: %w", creditType, model.ErrInvalidInput)
	}
	res, err := e.Ledger.Deduct(ctx, userID, cost, creditType, referenceID)
	if err != nil {
		return nil, err
	}
	res.Cost = cost
	return res, nil
}

func (e *BillingEngine) ActivatePass(ctx context.Context, userID, productID, purchaseRef string, metadata map[string]string) (*model.Pass, error) {
	return e.Reconciler.ActivatePass(ctx, userID, productID, purchaseRef, metadata)
}

func (e *BillingEngine) AdminGrantPass(ctx context.Context, userID, productCode, grantedBy string) (*model.Pass, error) {
	return e.Reconciler.AdminGrantPass(ctx, userID, productCode, grantedBy)
}

func (e *BillingEngine) RevokePass(ctx context.Context, passID, revokedBy string) (*model.Pass, error) {
	return e.Reconciler.RevokePass(ctx, passID, revokedBy)
}

func (e *BillingEngine) ProcessLifecycleEvent(ctx context.Context, ev model.LifecycleEvent) error {
	return e.Reconciler.ProcessLifecycleEvent(ctx, ev)
}

// GetBillingStatus returns the read-only account overview.
func (e *BillingEngine) GetBillingStatus(ctx context.Context, userID string) (*model.BillingStatus, error) {
	var (
		passes    []model.Pass
		subs      []model.Subscription
		purchases []model.PassPurchase
		products  []model.BillingProduct
		balance   int64
		caps      *model.Capabilities
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		passes, err = e.store.Passes.ListByUser(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		subs, err = e.store.Subscriptions.ListByUser(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		purchases, err = e.store.Purchases.ListRecent(gctx, userID, recentPurchasesLimit)
		return err
	})
	g.Go(func() (err error) {
		products, err = e.store.Products.ListActive(gctx)
		return err
	})
	g.Go(func() (err error) {
		balance, err = e.store.Ledger.Balance(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		caps, err = e.caps.Get(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to build billing status")
		return nil, fmt.Errorf("billing status for user %s: %w", userID, err)
	}

	status := &model.BillingStatus{
		UserID:          userID,
		ActiveTiers:     make(map[string]string, len(caps.Scopes)),
		ActiveUntil:     make(map[string]*time.Time, len(caps.Scopes)),
		Passes:          passes,
		Subscriptions:   subs,
		RecentPurchases: purchases,
		Products:        make(map[string][]model.BillingProduct),
		CreditBalance:   balance,
	}
	for scope, sc := range caps.Scopes {
		status.ActiveTiers[scope] = sc.Tier
		status.ActiveUntil[scope] = sc.ActiveUntil
	}
	for _, p := range products {
		status.Products[p.Scope] = append(status.Products[p.Scope], p)
	}
	return status, nil
}
