package service

import (
	"context"
	"fmt"
	"time"

	"gatekeeper/internal/model"
	"gatekeeper/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CapabilityService computes effective capabilities from passes and subscriptions.
type CapabilityService interface {
	Resolve(ctx context.Context, userID string) (*model.Capabilities, error)
	ResolveScope(ctx context.Context, userID, scope string) (model.ScopeCapabilities, error)
}

type capabilityService struct {
	products repository.ProductRepository
	passes   repository.PassRepository
	subs     repository.SubscriptionRepository
	now      func() time.Time
	logger   zerolog.Logger
}

// NewCapabilityService creates a new CapabilityService with a scoped logger.
func NewCapabilityService(store *repository.Store, logger zerolog.Logger) CapabilityService {
	return &capabilityService{
		products: store.Products,
		passes:   store.Passes,
		subs:     store.Subscriptions,
		now:      time.Now,
		logger:   logger.With().Str("service", "CapabilityService").Logger(),
	}
}

// candidate is one live grant competing for a scope.
type candidate struct {
	product     model.BillingProduct
	source      model.CapabilitySource
	activeUntil time.Time
}

// beats reports whether c should win the scope over other: higher tier rank
// first, then subscription over pass, then the later end.
func (c candidate) beats(other candidate) bool {
	if c.product.TierRank != other.product.TierRank {
		return c.product.TierRank > other.product.TierRank
	}
	if c.source != other.source {
		return c.source == model.SourceSubscription
	}
	return c.activeUntil.After(other.activeUntil)
}

func (s *capabilityService) Resolve(ctx context.Context, userID string) (*model.Capabilities, error) {
	now := s.now()

	var (
		passes []model.Pass
		subs   []model.Subscription
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		passes, err = s.passes.ListLive(gctx, userID, now)
		return err
	})
	g.Go(func() error {
		var err error
		subs, err = s.subs.ListLive(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load grants")
		return nil, fmt.Errorf("resolve capabilities for user %s: %w", userID, err)
	}

	products := make(map[string]model.BillingProduct)
	load := func(id string) (model.BillingProduct, error) {
		if p, ok := products[id]; ok {
			return p, nil
		}
		p, err := s.products.GetByID(ctx, id)
		if err != nil {
			return model.BillingProduct{}, err
		}
		products[id] = *p
		return *p, nil
	}

	winners := make(map[string]candidate)
	consider := func(c candidate) {
		cur, ok := winners[c.product.Scope]
		if !ok || c.beats(cur) {
			winners[c.product.Scope] = c
		}
	}
	for _, p := range passes {
		product, err := load(p.ProductID)
		if err != nil {
			return nil, fmt.Errorf("resolve pass %s product: %w", p.ID, err)
		}
		consider(candidate{product: product, source: model.SourcePass, activeUntil: p.EndsAt})
	}
	for _, sub := range subs {
		product, err := load(sub.ProductID)
		if err != nil {
			return nil, fmt.Errorf("resolve subscription %s product: %w", sub.ID, err)
		}
		consider(candidate{product: product, source: model.SourceSubscription, activeUntil: sub.CurrentPeriodEnd})
	}

	ids := make([]string, 0, len(winners))
	for _, c := range winners {
		ids = append(ids, c.product.ID)
	}
	ents, err := s.products.ListEntitlements(ctx, ids)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load entitlements")
		return nil, fmt.Errorf("resolve capabilities for user %s: %w", userID, err)
	}

	caps := &model.Capabilities{
		UserID:     userID,
		Scopes:     make(map[string]model.ScopeCapabilities, len(model.Scopes)),
		ComputedAt: now,
	}
	for _, scope := range model.Scopes {
		c, ok := winners[scope]
		if !ok {
			caps.Scopes[scope] = freeScope(scope)
			continue
		}
		caps.Scopes[scope] = buildScope(c, ents[c.product.ID])
	}
	// Products may define scopes beyond the built-in ones.
	for scope, c := range winners {
		if _, ok := caps.Scopes[scope]; !ok {
			caps.Scopes[scope] = buildScope(c, ents[c.product.ID])
		}
	}
	return caps, nil
}

func (s *capabilityService) ResolveScope(ctx context.Context, userID, scope string) (model.ScopeCapabilities, error) {
	caps, err := s.Resolve(ctx, userID)
	if err != nil {
		return model.ScopeCapabilities{}, err
	}
	return caps.Scope(scope), nil
}

func newScope(scope string) model.ScopeCapabilities {
	return model.ScopeCapabilities{
		Scope:      scope,
		Allowances: map[string]int64{},
		Limits:     map[string]int64{},
		Flags:      map[string]bool{},
	}
}

func applyValue(sc *model.ScopeCapabilities, key string, v model.CapabilityValue) {
	if n, ok := v.Int(); ok {
		if model.IsAllowanceKey(key) {
			sc.Allowances[key] = n
		} else {
			sc.Limits[key] = n
		}
		return
	}
	if b, ok := v.Bool(); ok {
		sc.Flags[key] = b
	}
}

func freeScope(scope string) model.ScopeCapabilities {
	sc := newScope(scope)
	sc.Tier = model.TierFree
	sc.Source = model.SourceFree
	for key, v := range model.FreeTierDefaults[scope] {
		applyValue(&sc, key, v)
	}
	return sc
}

func buildScope(c candidate, ents []model.Entitlement) model.ScopeCapabilities {
	sc := newScope(c.product.Scope)
	for key, v := range model.FreeTierDefaults[c.product.Scope] {
		applyValue(&sc, key, v)
	}
	for _, e := range ents {
		applyValue(&sc, e.Key, e.Value)
	}
	until := c.activeUntil
	sc.Tier = c.product.Tier
	sc.TierRank = c.product.TierRank
	sc.ProductID = c.product.ID
	sc.Source = c.source
	sc.ActiveUntil = &until
	return sc
}
