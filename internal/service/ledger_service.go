package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeeper/internal/metrics"
	"gatekeeper/internal/model"
	"gatekeeper/internal/repository"

	"github.com/rs/zerolog"
)

// LedgerService manages prepaid credit balances.
type LedgerService interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Add(ctx context.Context, userID string, amount int64, creditType model.CreditType, referenceID string) (*model.CreditLedgerEntry, error)
	// Deduct fails closed: an insufficient balance yields Success=false and no entry.
	Deduct(ctx context.Context, userID string, amount int64, creditType model.CreditType, referenceID string) (*model.ChargeResult, error)
	Refund(ctx context.Context, userID string, amount int64, originalReferenceID string) (*model.CreditLedgerEntry, error)
	History(ctx context.Context, userID string, limit, offset int) ([]model.CreditLedgerEntry, error)
	Summary(ctx context.Context, userID string) (*model.CreditSummary, error)
	// GrantPlanCredits adds a monthly plan allocation at most once per calendar month.
	GrantPlanCredits(ctx context.Context, userID string, amount int64, at time.Time) (bool, error)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type ledgerService struct {
	repo   repository.LedgerRepository
	now    func() time.Time
	logger zerolog.Logger
}

// NewLedgerService creates a new LedgerService with a scoped logger.
func NewLedgerService(repo repository.LedgerRepository, logger zerolog.Logger) LedgerService {
	return &ledgerService{
		repo:   repo,
		now:    time.Now,
		logger: logger.With().Str("service", "LedgerService").Logger(),
	}
}

func refPtr(ref string) *string {
	if ref == "" {
		return nil
	}
	return &ref
}

func (s *ledgerService) Balance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.repo.Balance(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to read credit balance")
		return 0, err
	}
	return balance, nil
}

func (s *ledgerService) Add(ctx context.Context, userID string, amount int64, creditType model.CreditType, referenceID string) (*model.CreditLedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("add %d credits: amount must be positive: %w", amount, model.ErrInvalidInput)
	}
	entry, _, err := s.repo.Append(ctx, model.AppendCreditInput{
		UserID:     userID,
		Delta:      amount,
		CreditType: creditType,
		Reference:  refPtr(referenceID),
		At:         s.now(),
	})
	if err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("add", "error").Inc()
		s.logger.Error().Err(err).Str("user_id", userID).Int64("amount", amount).Msg("Failed to add credits")
		return nil, err
	}
	metrics.LedgerOperationsTotal.WithLabelValues("add", "ok").Inc()
	return entry, nil
}

func (s *ledgerService) Deduct(ctx context.Context, userID string, amount int64, creditType model.CreditType, referenceID string) (*model.ChargeResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deduct %d credits: amount must be positive: %w", amount, model.ErrInvalidInput)
	}
	entry, _, err := s.repo.Append(ctx, model.AppendCreditInput{
		UserID:     userID,
		Delta:      -amount,
		CreditType: creditType,
		Reference:  refPtr(referenceID),
		At:         s.now(),
	})
	if errors.Is(err, model.ErrInsufficientFunds) {
		metrics.LedgerOperationsTotal.WithLabelValues("deduct", "insufficient").Inc()
		balance, balErr := s.repo.Balance(ctx, userID)
		if balErr != nil {
			return nil, balErr
		}
		return &model.ChargeResult{Success: false, NewBalance: balance, Reason: model.ReasonInsufficient}, nil
	}
	if err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("deduct", "error").Inc()
		s.logger.Error().Err(err).Str("user_id", userID).Int64("amount", amount).Msg("Failed to deduct credits")
		return nil, err
	}
	metrics.LedgerOperationsTotal.WithLabelValues("deduct", "ok").Inc()
	return &model.ChargeResult{Success: true, NewBalance: entry.BalanceAfter}, nil
}

func (s *ledgerService) Refund(ctx context.Context, userID string, amount int64, originalReferenceID string) (*model.CreditLedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("refund %d credits: amount must be positive: %w", amount, model.ErrInvalidInput)
	}
	entry, _, err := s.repo.Append(ctx, model.AppendCreditInput{
		UserID:     userID,
		Delta:      amount,
		CreditType: model.CreditRefund,
		Reference:  refPtr(originalReferenceID),
		At:         s.now(),
	})
	if err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("refund", "error").Inc()
		s.logger.Error().Err(err).Str("user_id", userID).Str("reference_id", originalReferenceID).Msg("Failed to refund credits")
		return nil, err
	}
	metrics.LedgerOperationsTotal.WithLabelValues("refund", "ok").Inc()
	return entry, nil
}

func (s *ledgerService) History(ctx context.Context, userID string, limit, offset int) ([]model.CreditLedgerEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	offset = max(offset, 0)
	entries, err := s.repo.List(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list ledger entries")
		return nil, err
	}
	return entries, nil
}

func (s *ledgerService) Summary(ctx context.Context, userID string) (*model.CreditSummary, error) {
	monthStart, _ := repository.MonthBounds(s.now())
	summary, err := s.repo.Summary(ctx, userID, monthStart)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to summarize ledger")
		return nil, err
	}
	return summary, nil
}

func (s *ledgerService) GrantPlanCredits(ctx context.Context, userID string, amount int64, at time.Time) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("plan allocation of %d credits: %w", amount, model.ErrInvalidInput)
	}
	if at.IsZero() {
		at = s.now()
	}
	_, appended, err := s.repo.Append(ctx, model.AppendCreditInput{
		UserID:       userID,
		Delta:        amount,
		CreditType:   model.CreditPlanAllocation,
		Reference:    refPtr("plan:" + at.UTC().Format("2006-01")),
		At:           at,
		OncePerMonth: true,
	})
	if err != nil {
		metrics.LedgerOperationsTotal.WithLabelValues("allocation", "error").Inc()
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to allocate plan credits")
		return false, err
	}
	if appended {
		metrics.LedgerOperationsTotal.WithLabelValues("allocation", "ok").Inc()
	} else {
		metrics.LedgerOperationsTotal.WithLabelValues("allocation", "skipped").Inc()
	}
	return appended, nil
}
