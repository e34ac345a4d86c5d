package service

import (
	"context"
	"time"

	"gatekeeper/internal/cache"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/model"
	"gatekeeper/internal/repository"

	"github.com/rs/zerolog"
)

// GateService decides whether a monetized action may proceed and how it is paid for.
// Every method fails closed: a store or collaborator failure yields an
// unavailable decision, never an allow.
type GateService interface {
	CheckGate(ctx context.Context, userID string, gate model.GateType, params model.GateParams) model.Decision
	CheckPostingGate(ctx context.Context, userID, listingType string) model.Decision
	CheckContactUnlockGate(ctx context.Context, userID string) model.Decision
	CheckRfqResponseGate(ctx context.Context, vendorID string) model.Decision
	CheckFeatureGate(ctx context.Context, userID, featureKey string) model.Decision
	CheckTierGate(ctx context.Context, userID, scope, requiredTier string) model.Decision
}

var postingCapKeys = map[string]string{
	model.ListingJob: model.KeyJobPostsMaxActive,
	model.ListingGig: model.KeyGigPostsMaxActive,
}

type gateService struct {
	caps     cache.Cache
	quota    QuotaService
	products repository.ProductRepository
	listings repository.ListingCounter
	rfqs     repository.RfqCounter
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewGateService creates a new GateService. A zero timeout disables the per-check deadline.
func NewGateService(caps cache.Cache, quota QuotaService, store *repository.Store, timeout time.Duration, logger zerolog.Logger) GateService {
	return &gateService{
		caps:     caps,
		quota:    quota,
		products: store.Products,
		listings: store.Listings,
		rfqs:     store.Rfqs,
		timeout:  timeout,
		logger:   logger.With().Str("service", "GateService").Logger(),
	}
}

func (s *gateService) CheckGate(ctx context.Context, userID string, gate model.GateType, params model.GateParams) model.Decision {
	switch gate {
	case model.GatePosting:
		return s.CheckPostingGate(ctx, userID, params.ListingType)
	case model.GateContactUnlock:
		return s.CheckContactUnlockGate(ctx, userID)
	case model.GateRfqResponse:
		return s.CheckRfqResponseGate(ctx, userID)
	case model.GateFeature:
		return s.CheckFeatureGate(ctx, userID, params.FeatureKey)
	case model.GateTier:
		return s.CheckTierGate(ctx, userID, params.Scope, params.RequiredTier)
	default:
		metrics.GateDecisionsTotal.WithLabelValues(string(gate), string(model.DecisionBlocked)).Inc()
		return model.Blocked("unknown_gate")
	}
}

// run bounds fn by the gate timeout, converts failures into an unavailable
// decision and records metrics.
func (s *gateService) run(ctx context.Context, gate model.GateType, userID string, fn func(ctx context.Context) (model.Decision, error)) model.Decision {
	start := time.Now()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	d, err := fn(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("gate", string(gate)).Msg("Gate check failed, denying")
		d = model.Unavailable()
	}
	metrics.GateDecisionsTotal.WithLabelValues(string(gate), string(d.Source)).Inc()
	metrics.GateDuration.WithLabelValues(string(gate)).Observe(time.Since(start).Seconds())
	return d
}

func (s *gateService) CheckPostingGate(ctx context.Context, userID, listingType string) model.Decision {
	return s.run(ctx, model.GatePosting, userID, func(ctx context.Context) (model.Decision, error) {
		key, ok := postingCapKeys[listingType]
		if !ok {
			return model.Blocked(model.ReasonUnknownListing), nil
		}
		caps, err := s.caps.Get(ctx, userID)
		if err != nil {
			return model.Decision{}, err
		}
		limit, _ := caps.Limit(key)
		if model.IsUnlimited(limit) {
			return model.Decision{Allowed: true, Source: model.DecisionIncluded, Unlimited: true}, nil
		}
		used, err := s.listings.CountActiveListings(ctx, userID, listingType)
		if err != nil {
			return model.Decision{}, err
		}
		d := model.Decision{
			Allowed:   true,
			Limit:     &limit,
			Used:      &used,
			Remaining: ptr(max(limit-used, 0)),
		}
		if used < limit {
			d.Source = model.DecisionIncluded
			return d, nil
		}
		// Posting past the cap is billed, not refused.
		d.Source = model.DecisionCredits
		d.OverLimit = true
		d.Reason = model.ReasonLimitReached
		d.UpgradeSuggested = true
		return d, nil
	})
}

func (s *gateService) CheckContactUnlockGate(ctx context.Context, userID string) model.Decision {
	return s.run(ctx, model.GateContactUnlock, userID, func(ctx context.Context) (model.Decision, error) {
		status, err := s.quota.Remaining(ctx, userID, model.KeyContactUnlocksIncluded)
		if err != nil {
			return model.Decision{}, err
		}
		if status.Unlimited {
			return model.Decision{Allowed: true, Source: model.DecisionIncluded, Unlimited: true}, nil
		}
		d := model.Decision{
			Allowed:   true,
			Limit:     &status.Limit,
			Used:      &status.Used,
			Remaining: &status.Remaining,
		}
		if status.Remaining > 0 {
			d.Source = model.DecisionIncluded
			return d, nil
		}
		d.Source = model.DecisionCredits
		d.Reason = model.ReasonAllowanceUsedUp
		d.UpgradeSuggested = true
		return d, nil
	})
}

func (s *gateService) CheckRfqResponseGate(ctx context.Context, vendorID string) model.Decision {
	return s.run(ctx, model.GateRfqResponse, vendorID, func(ctx context.Context) (model.Decision, error) {
		caps, err := s.caps.Get(ctx, vendorID)
		if err != nil {
			return model.Decision{}, err
		}
		limit, _ := caps.Limit(model.KeyRfqResponsesMaxActive)
		if model.IsUnlimited(limit) {
			return model.Decision{Allowed: true, Source: model.DecisionIncluded, Unlimited: true}, nil
		}
		used, err := s.rfqs.CountActiveRfqResponses(ctx, vendorID)
		if err != nil {
			return model.Decision{}, err
		}
		if used < limit {
			return model.Decision{
				Allowed:   true,
				Source:    model.DecisionIncluded,
				Limit:     &limit,
				Used:      &used,
				Remaining: ptr(limit - used),
			}, nil
		}
		// No credit fallback for RFQ responses.
		d := model.Blocked(model.ReasonLimitReached)
		d.Limit = &limit
		d.Used = &used
		d.Remaining = ptr(int64(0))
		d.UpgradeSuggested = true
		return d, nil
	})
}

func (s *gateService) CheckFeatureGate(ctx context.Context, userID, featureKey string) model.Decision {
	return s.run(ctx, model.GateFeature, userID, func(ctx context.Context) (model.Decision, error) {
		caps, err := s.caps.Get(ctx, userID)
		if err != nil {
			return model.Decision{}, err
		}
		if caps.Feature(featureKey) {
			return model.Decision{Allowed: true, Source: model.DecisionIncluded}, nil
		}
		d := model.Blocked(model.ReasonFeatureDisabled)
		d.UpgradeSuggested = true
		return d, nil
	})
}

func (s *gateService) CheckTierGate(ctx context.Context, userID, scope, requiredTier string) model.Decision {
	return s.run(ctx, model.GateTier, userID, func(ctx context.Context) (model.Decision, error) {
		requiredRank, ok, err := s.tierRank(ctx, scope, requiredTier)
		if err != nil {
			return model.Decision{}, err
		}
		if !ok {
			d := model.Blocked(model.ReasonUnknownTier)
			d.RequiredTier = requiredTier
			return d, nil
		}
		caps, err := s.caps.Get(ctx, userID)
		if err != nil {
			return model.Decision{}, err
		}
		current := caps.Scope(scope)
		if current.TierRank >= requiredRank {
			return model.Decision{
				Allowed:      true,
				Source:       model.DecisionIncluded,
				CurrentTier:  current.Tier,
				RequiredTier: requiredTier,
			}, nil
		}
		d := model.Blocked(model.ReasonTierTooLow)
		d.UpgradeSuggested = true
		d.CurrentTier = current.Tier
		d.RequiredTier = requiredTier
		return d, nil
	})
}

// tierRank looks up the rank of a tier name within a scope from the active catalog.
func (s *gateService) tierRank(ctx context.Context, scope, tier string) (int, bool, error) {
	if tier == model.TierFree {
		return 0, true, nil
	}
	products, err := s.products.ListActive(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, p := range products {
		if p.Scope == scope && p.Tier == tier {
			return p.TierRank, true, nil
		}
	}
	return 0, false, nil
}

func ptr[T any](v T) *T { return &v }
