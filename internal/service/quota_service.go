package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeeper/internal/cache"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/model"
	"gatekeeper/internal/repository"

	"github.com/rs/zerolog"
)

// QuotaService tracks included allowances against the winning product's limits.
type QuotaService interface {
	Remaining(ctx context.Context, userID, metricKey string) (*model.QuotaStatus, error)
	// Consume takes one unit of the allowance if any is left.
	Consume(ctx context.Context, userID, metricKey string) (*model.ConsumeResult, error)
}

type quotaService struct {
	caps   cache.Cache
	usage  repository.UsageRepository
	now    func() time.Time
	logger zerolog.Logger
}

// NewQuotaService creates a new QuotaService with a scoped logger.
func NewQuotaService(caps cache.Cache, usage repository.UsageRepository, logger zerolog.Logger) QuotaService {
	return &quotaService{
		caps:   caps,
		usage:  usage,
		now:    time.Now,
		logger: logger.With().Str("service", "QuotaService").Logger(),
	}
}

func (s *quotaService) Remaining(ctx context.Context, userID, metricKey string) (*model.QuotaStatus, error) {
	caps, err := s.caps.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("remaining %s for user %s: %w", metricKey, userID, err)
	}
	status := &model.QuotaStatus{MetricKey: metricKey}
	limit, sc, ok := caps.Allowance(metricKey)
	if !ok {
		return status, nil
	}
	status.Limit = limit
	if model.IsUnlimited(limit) {
		status.Unlimited = true
		status.Remaining = model.Unlimited
		return status, nil
	}
	if limit == 0 || sc.ProductID == "" {
		return status, nil
	}

	row, err := s.usage.Current(ctx, userID, sc.ProductID, metricKey, s.now())
	if errors.Is(err, model.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("metric_key", metricKey).Msg("Failed to read usage period")
		return nil, err
	}
	status.Used = row.MetricValue
	status.Remaining = max(limit-row.MetricValue, 0)
	return status, nil
}

func (s *quotaService) Consume(ctx context.Context, userID, metricKey string) (*model.ConsumeResult, error) {
	caps, err := s.caps.Get(ctx, userID)
	if err != nil {
		metrics.QuotaConsumeTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("consume %s for user %s: %w", metricKey, userID, err)
	}
	limit, sc, ok := caps.Allowance(metricKey)
	if !ok || limit == 0 || sc.ProductID == "" {
		metrics.QuotaConsumeTotal.WithLabelValues("not_included").Inc()
		return &model.ConsumeResult{Consumed: false, Remaining: 0}, nil
	}
	if model.IsUnlimited(limit) {
		metrics.QuotaConsumeTotal.WithLabelValues("unlimited").Inc()
		return &model.ConsumeResult{Consumed: true, Remaining: model.Unlimited}, nil
	}

	row, consumed, err := s.usage.Consume(ctx, userID, sc.ProductID, metricKey, s.now(), limit)
	if errors.Is(err, model.ErrNotFound) {
		metrics.QuotaConsumeTotal.WithLabelValues("no_period").Inc()
		return &model.ConsumeResult{Consumed: false, Remaining: 0}, nil
	}
	if err != nil {
		metrics.QuotaConsumeTotal.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("user_id", userID).Str("metric_key", metricKey).Msg("Failed to consume allowance")
		return nil, err
	}
	if consumed {
		metrics.QuotaConsumeTotal.WithLabelValues("consumed").Inc()
	} else {
		metrics.QuotaConsumeTotal.WithLabelValues("exhausted").Inc()
	}
	return &model.ConsumeResult{Consumed: consumed, Remaining: max(limit-row.MetricValue, 0)}, nil
}
