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

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// ReconcilerService applies lifecycle events to passes and subscriptions.
// Every handler is idempotent so events can be redelivered blindly.
type ReconcilerService interface {
	ProcessLifecycleEvent(ctx context.Context, e model.LifecycleEvent) error
	ActivatePass(ctx context.Context, userID, productID, purchaseRef string, metadata map[string]string) (*model.Pass, error)
	AdminGrantPass(ctx context.Context, userID, productCode, grantedBy string) (*model.Pass, error)
	RevokePass(ctx context.Context, passID, revokedBy string) (*model.Pass, error)
	// ExpirePasses marks overdue passes expired and returns the number of affected users.
	ExpirePasses(ctx context.Context, now time.Time) (int, error)
}

// Notifier tells other services that a user's entitlements changed.
type Notifier interface {
	NotifyEntitlementsChanged(ctx context.Context, msg model.EntitlementsChanged) error
}

// ProviderStripe is the purchase provider name for Stripe checkouts.
const ProviderStripe = "stripe"

// defaultSubscriptionMonths is the period length used when a checkout carries no period bounds.
const defaultSubscriptionMonths = 1

type reconcileResult struct {
	users []string
	pass  *model.Pass
}

type eventHandler func(ctx context.Context, e model.LifecycleEvent) (reconcileResult, error)

type reconcilerService struct {
	store    *repository.Store
	caps     cache.Cache
	notifier Notifier
	validate *validator.Validate
	handlers map[model.EventType]eventHandler
	now      func() time.Time
	logger   zerolog.Logger
}

// NewReconcilerService creates a new ReconcilerService. notifier may be nil.
func NewReconcilerService(store *repository.Store, caps cache.Cache, notifier Notifier, logger zerolog.Logger) ReconcilerService {
	s := &reconcilerService{
		store:    store,
		caps:     caps,
		notifier: notifier,
		validate: validator.New(),
		now:      time.Now,
		logger:   logger.With().Str("service", "ReconcilerService").Logger(),
	}
	s.handlers = map[model.EventType]eventHandler{
		model.EventCheckoutCompleted:    s.handleCheckoutCompleted,
		model.EventInvoicePaid:          s.handleInvoicePaid,
		model.EventInvoicePaymentFailed: s.handlePaymentFailed,
		model.EventSubscriptionUpdated:  s.handleSubscriptionUpdated,
		model.EventSubscriptionDeleted:  s.handleSubscriptionDeleted,
		model.EventPassPurchased:        s.handlePassPurchased,
		model.EventPassGranted:          s.handlePassGranted,
		model.EventPassRevoked:          s.handlePassRevoked,
	}
	return s
}

func (s *reconcilerService) ProcessLifecycleEvent(ctx context.Context, e model.LifecycleEvent) error {
	_, err := s.process(ctx, e)
	return err
}

func (s *reconcilerService) process(ctx context.Context, e model.LifecycleEvent) (reconcileResult, error) {
	if err := s.validate.Struct(e); err != nil {
		return reconcileResult{}, fmt.Errorf("lifecycle event %q: %w: %v", e.ID, model.ErrInvalidInput, err)
	}
	log := s.logger.With().Str("event_id", e.ID).Str("event_type", string(e.Type)).Str("source", string(e.Source)).Logger()

	firstSeen, err := s.store.Events.Record(ctx, e)
	if err != nil {
		metrics.LifecycleEventsTotal.WithLabelValues(string(e.Type), "error").Inc()
		log.Error().Err(err).Msg("Failed to record lifecycle event")
		return reconcileResult{}, err
	}
	if !firstSeen {
		log.Info().Msg("Lifecycle event redelivered, re-applying")
	}

	handler, ok := s.handlers[e.Type]
	if !ok {
		log.Warn().Msg("Ignoring unsupported lifecycle event")
		metrics.LifecycleEventsTotal.WithLabelValues(string(e.Type), "ignored").Inc()
		return reconcileResult{}, s.store.Events.MarkProcessed(ctx, e.Source, e.ID, nil)
	}

	res, herr := handler(ctx, e)
	if err := s.store.Events.MarkProcessed(ctx, e.Source, e.ID, herr); err != nil && herr == nil {
		log.Error().Err(err).Msg("Failed to mark lifecycle event processed")
		return reconcileResult{}, err
	}
	if herr != nil {
		metrics.LifecycleEventsTotal.WithLabelValues(string(e.Type), "error").Inc()
		log.Error().Err(herr).Bool("retryable", model.IsRetryable(herr)).Msg("Failed to apply lifecycle event")
		return reconcileResult{}, herr
	}

	// Invalidation comes after every store write has committed.
	for _, userID := range res.users {
		if err := s.caps.Invalidate(ctx, userID); err != nil {
			metrics.LifecycleEventsTotal.WithLabelValues(string(e.Type), "error").Inc()
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to invalidate capabilities")
			return reconcileResult{}, fmt.Errorf("invalidate capabilities for user %s: %w", userID, err)
		}
	}
	s.notify(ctx, e, res.users)

	outcome := "ok"
	if !firstSeen {
		outcome = "replayed"
	}
	metrics.LifecycleEventsTotal.WithLabelValues(string(e.Type), outcome).Inc()
	log.Info().Strs("user_ids", res.users).Msg("Lifecycle event applied")
	return res, nil
}

func (s *reconcilerService) notify(ctx context.Context, e model.LifecycleEvent, users []string) {
	if s.notifier == nil {
		return
	}
	for _, userID := range users {
		msg := model.EntitlementsChanged{UserID: userID, EventID: e.ID, EventType: e.Type, At: s.now()}
		if err := s.notifier.NotifyEntitlementsChanged(ctx, msg); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Str("event_id", e.ID).Msg("Failed to publish entitlements change")
		}
	}
}

func (s *reconcilerService) ActivatePass(ctx context.Context, userID, productID, purchaseRef string, metadata map[string]string) (*model.Pass, error) {
	if userID == "" || productID == "" || purchaseRef == "" {
		return nil, fmt.Errorf("activate pass: user, product and purchase ref are required: %w", model.ErrInvalidInput)
	}
	// The id is derived from the purchase so retries collapse onto one event.
	id := "pass:" + productID + ":" + purchaseRef
	payload := model.PassPurchasedPayload{UserID: userID, ProductID: productID, PurchaseRef: purchaseRef, Metadata: metadata}
	e, err := model.NewLifecycleEvent(id, model.EventSourceInternal, model.EventPassPurchased, userID, s.now(), payload)
	if err != nil {
		return nil, err
	}
	res, err := s.process(ctx, e)
	if err != nil {
		return nil, err
	}
	return res.pass, nil
}

func (s *reconcilerService) AdminGrantPass(ctx context.Context, userID, productCode, grantedBy string) (*model.Pass, error) {
	payload := model.PassGrantedPayload{UserID: userID, ProductCode: productCode, GrantedBy: grantedBy}
	e, err := model.NewLifecycleEvent(ulid.Make().String(), model.EventSourceAdmin, model.EventPassGranted, userID, s.now(), payload)
	if err != nil {
		return nil, err
	}
	res, err := s.process(ctx, e)
	if err != nil {
		return nil, err
	}
	return res.pass, nil
}

func (s *reconcilerService) RevokePass(ctx context.Context, passID, revokedBy string) (*model.Pass, error) {
	payload := model.PassRevokedPayload{PassID: passID, RevokedBy: revokedBy}
	e, err := model.NewLifecycleEvent(ulid.Make().String(), model.EventSourceAdmin, model.EventPassRevoked, passID, s.now(), payload)
	if err != nil {
		return nil, err
	}
	res, err := s.process(ctx, e)
	if err != nil {
		return nil, err
	}
	return res.pass, nil
}

func (s *reconcilerService) ExpirePasses(ctx context.Context, now time.Time) (int, error) {
	users, err := s.store.Passes.ExpireDue(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to expire passes")
		return 0, err
	}
	var errs []error
	for _, userID := range users {
		if err := s.caps.Invalidate(ctx, userID); err != nil {
			errs = append(errs, fmt.Errorf("invalidate capabilities for user %s: %w", userID, err))
		}
	}
	if len(users) > 0 {
		s.logger.Info().Int("users", len(users)).Msg("Expired overdue passes")
	}
	return len(users), errors.Join(errs...)
}

func (s *reconcilerService) handleCheckoutCompleted(ctx context.Context, e model.LifecycleEvent) (reconcileResult, error) {
	var p model.CheckoutCompletedPayload
	if err := e.DecodePayload(&p); err != nil {
		return reconcileResult{}, err
	}
	if p.UserID == "" || p.ProductCode == "" {
		return reconcileResult{}, fmt.Errorf("checkout %s: missing user or product: %w", p.SessionID, model.ErrInvalidInput)
	}
	product, err := s.store.Products.GetByCode(ctx, p.ProductCode)
	if err != nil {
		return reconcileResult{}, err
	}

	switch p.Mode {
	case model.CheckoutModePayment:
		if !product.SupportsPass() || p.SessionID == "" {
			return reconcileResult{}, fmt.Errorf("checkout %s for %s: not a pass purchase: %w", p.SessionID, product.Code, model.ErrInvalidInput)
		}
		pass, err := s.activatePass(ctx, p.UserID, product, p.SessionID, e.OccurredAt, map[string]string{"source": "checkout"})
		if err != nil {
			return reconcileResult{}, err
		}
		err = s.store.Purchases.MarkStatus(ctx, ProviderStripe, p.SessionID, model.PurchaseCompleted)
		if err != nil && !model.IsNotFound(err) {
			return reconcileResult{}, err
		}
		return reconcileResult{users: []string{p.UserID}, pass: pass}, nil

	case model.CheckoutModeSubscription:
		if !product.SupportsSubscription() || p.ProviderSubscriptionID == "" {
			return reconcileResult{}, fmt.Errorf("checkout %s for %s: not a subscription: %w", p.SessionID, product.Code, model.ErrInvalidInput)
		}
		status, ok := model.MapProviderStatus(p.Status)
		if !ok {
			status = model.SubscriptionActive
		}
		start, end := p.PeriodStart, p.PeriodEnd
		if start.IsZero() {
			start = e.OccurredAt
		}
		if !end.After(start) {
			end = start.AddDate(0, defaultSubscriptionMonths, 0)
		}
		var customerID *string
		if p.ProviderCustomerID != "" {
			customerID = &p.ProviderCustomerID
		}
		sub, err := s.store.Subscriptions.UpsertFromCheckout(ctx, model.UpsertSubscriptionInput{
			UserID:                 p.UserID,
			ProductID:              product.ID,
			Scope:                  product.Scope,
			Status:                 status,
			ProviderSubscriptionID: p.ProviderSubscriptionID,
			ProviderCustomerID:     customerID,
			PeriodStart:            start,
			PeriodEnd:              end,
			CancelAtPeriodEnd:      p.CancelAtPeriodEnd,
			EventAt:                e.OccurredAt,
		})
		if err != nil {
			return reconcileResult{}, err
		}
		if sub.Live() {
			if err := s.initUsage(ctx, sub.UserID, sub.ProductID, sub.Scope, sub.CurrentPeriodStart, sub.CurrentPeriodEnd); err != nil {
				return reconcileResult{}, err
			}
		}
		return reconcileResult{users: []string{sub.UserID}}, nil

	default:
		return reconcileResult{}, fmt.Errorf("checkout %s: unknown mode %q: %w", p.SessionID, p.Mode, model.ErrInvalidInput)
	}
}

func (s *reconcilerService) handleInvoicePaid(ctx context.Context, e model.LifecycleEvent) (reconcileResult, error) {
	var p model.InvoicePayload
	if err := e.DecodePayload(&p); err != nil {
		return reconcileResult{}, err
	}
	if p.ProviderSubscriptionID == "" {
		return reconcileResult{}, fmt.Errorf("invoice %s: missing subscription: %w", p.InvoiceID, model.ErrInvalidInput)
	}
	sub, err := s.store.Subscriptions.Mutate(ctx, p.ProviderSubscriptionID, func(sub *model.Subscription) (bool, error) {
		changed := false
		if p.PeriodEnd.After(sub.CurrentPeriodEnd) {
			sub.CurrentPeriodStart = p.PeriodStart
			sub.CurrentPeriodEnd = p.PeriodEnd
			changed = true
		}
		if !e.OccurredAt.Before(sub.LastEventAt) && sub.Status != model.SubscriptionActive &&
			model.CanTransition(sub.Status, model.SubscriptionActive) {
			sub.Status = model.SubscriptionActive
			changed = true
		}
		if changed && e.OccurredAt.After(sub.LastEventAt) {
			sub.LastEventAt = e.OccurredAt
		}
		return changed, nil
	})
	if err != nil {
		return reconcileResult{}, err
	}
	if sub.Live() {
		if err := s.initUsage(ctx, sub.UserID, sub.ProductID, sub.Scope, sub.CurrentPeriodStart, sub.CurrentPeriodEnd); err != nil {
			return reconcileResult{}, err
		}
	}
	return reconcileResult{users: []string{sub.UserID}}, nil
}

func (s *reconcilerService) handlePaymentFailed(ctx context.Context, e model.LifecycleEvent) (reconcileResult, error) {
	var p model.InvoicePayload
	if err := e.DecodePayload(&p); err != nil {
		return reconcileResult{}, err
	}
	if p.ProviderSubscriptionID == "" {
		return reconcileResult{}, fmt.Errorf("invoice %s: missing subscription: %w", p.InvoiceID, model.ErrInvalidInput)
	}
	sub, err := s.applyStatus(ctx, e, p.ProviderSubscriptionID, model.SubscriptionPastDue, func(*model.Subscription) bool { return false })
	if err != nil {
		return reconcileResult{}, err
	}
	return reconcileResult{users: []string{sub.UserID}}, nil
}

func (s *reconcilerService) handleSubscriptionUpdated(ctx context.Context, e model.LifecycleEvent) (reconcileResult, error) {
	var p model.SubscriptionUpdatedPayload
	if err := e.DecodePayload(&p); err != nil {
		return reconcileResult{}, err
	}
	status, ok := model.MapProviderStatus(p.Status)
	if !ok {
		return reconcileResult{}, fmt.Errorf("subscription %s: unknown status %q: %w", p.ProviderSubscriptionID, p.Status, model.ErrInvalidInput)
	}
	sub, err := s.applyStatus(ctx, e, p.ProviderSubscriptionID, status, func(sub *model.Subscription) bool {
		changed := false
		if sub.CancelAtPeriodEnd != p.CancelAtPeriodEnd {
			sub.CancelAtPeriodEnd = p.CancelAtPeriodEnd
			changed = true
		}
		if p.PeriodEnd.After(sub.CurrentPeriodEnd) {
			sub.CurrentPeriodStart = p.PeriodStart
			sub.CurrentPeriodEnd = p.PeriodEnd
			changed = true
		}
		return changed
	})
	if err != nil {
		return reconcileResult{}, err
	}
	return reconcileResult{users: []string{sub.UserID}}, nil
}

func (s *reconcilerService) handleSubscriptionDeleted(ctx context.Context, e model.LifecycleEvent) (reconcileResult, error) {
	var p model.SubscriptionUpdatedPayload
	if err := e.DecodePayload(&p); err != nil {
		return reconcileResult{}, err
	}
	// Deletion is final at the provider, so it applies even when delivered late.
	sub, err := s.store.Subscriptions.Mutate(ctx, p.ProviderSubscriptionID, func(sub *model.Subscription) (bool, error) {
		if sub.Status == model.SubscriptionCancelled {
			return false, nil
		}
		sub.Status = model.SubscriptionCancelled
		if e.OccurredAt.After(sub.LastEventAt) {
			sub.LastEventAt = e.OccurredAt
		}
		return true, nil
	})
	if err != nil {
		return reconcileResult{}, err
	}
	return reconcileResult{users: []string{sub.UserID}}, nil
}

// applyStatus moves a subscription to status when the edge is legal and the
// event is not older than the last applied one. extra may edit other fields.
func (s *reconcilerService) applyStatus(ctx context.Context, e model.LifecycleEvent, providerID string, status model.SubscriptionStatus, extra func(*model.Subscription) bool) (*model.Subscription, error) {
	if providerID == "" {
		return nil, fmt.Errorf("subscription event %s: missing subscription: %w", e.ID, model.ErrInvalidInput)
	}
	return s.store.Subscriptions.Mutate(ctx, providerID, func(sub *model.Subscription) (bool, error) {
		if e.OccurredAt.Before(sub.LastEventAt) {
			s.logger.Info().Str("event_id", e.ID).Str("subscription_id", providerID).Msg("Skipping out-of-order subscription event")
			return false, nil
		}
		changed := extra(sub)
		if sub.Status != status {
			next, err := model.Transition(sub.Status, status)
			if err != nil {
				s.logger.Warn().Err(err).Str("event_id", e.ID).Str("subscription_id", providerID).Msg("Ignoring illegal subscription transition")
			} else {
				sub.Status = next
				changed = true
			}
		}
		if changed {
			sub.LastEventAt = e.OccurredAt
		}
		return changed, nil
	})
}

func (s *reconcilerService) handlePassPurchased(ctx context.Context, e model.LifecycleEvent) (reconcileResult, error) {
	var p model.PassPurchasedPayload
	if err := e.DecodePayload(&p); err != nil {
		return reconcileResult{}, err
	}
	if p.UserID == "" || p.PurchaseRef == "" {
		return reconcileResult{}, fmt.Errorf("pass purchase %s: missing user or purchase ref: %w", e.ID, model.ErrInvalidInput)
	}
	var (
		product *model.BillingProduct
		err     error
	)
	if p.ProductID != "" {
		product, err = s.store.Products.GetByID(ctx, p.ProductID)
	} else {
		product, err = s.store.Products.GetByCode(ctx, p.ProductCode)
	}
	if err != nil {
		return reconcileResult{}, err
	}
	if !product.SupportsPass() {
		return reconcileResult{}, fmt.Errorf("product %s is not sold as a pass: %w", product.Code, model.ErrInvalidInput)
	}
	pass, err := s.activatePass(ctx, p.UserID, product, p.PurchaseRef, e.OccurredAt, p.Metadata)
	if err != nil {
		return reconcileResult{}, err
	}
	return reconcileResult{users: []string{p.UserID}, pass: pass}, nil
}

func (s *reconcilerService) handlePassGranted(ctx context.Context, e model.LifecycleEvent) (reconcileResult, error) {
	var p model.PassGrantedPayload
	if err := e.DecodePayload(&p); err != nil {
		return reconcileResult{}, err
	}
	if p.UserID == "" || p.ProductCode == "" {
		return reconcileResult{}, fmt.Errorf("pass grant %s: missing user or product: %w", e.ID, model.ErrInvalidInput)
	}
	product, err := s.store.Products.GetByCode(ctx, p.ProductCode)
	if err != nil {
		return reconcileResult{}, err
	}
	meta := map[string]string{"source": "admin"}
	if p.GrantedBy != "" {
		meta["granted_by"] = p.GrantedBy
	}
	pass, err := s.activatePass(ctx, p.UserID, product, "manual-grant:"+e.ID, e.OccurredAt, meta)
	if err != nil {
		return reconcileResult{}, err
	}
	return reconcileResult{users: []string{p.UserID}, pass: pass}, nil
}

func (s *reconcilerService) handlePassRevoked(ctx context.Context, e model.LifecycleEvent) (reconcileResult, error) {
	var p model.PassRevokedPayload
	if err := e.DecodePayload(&p); err != nil {
		return reconcileResult{}, err
	}
	if p.PassID == "" {
		return reconcileResult{}, fmt.Errorf("pass revoke %s: missing pass id: %w", e.ID, model.ErrInvalidInput)
	}
	pass, err := s.store.Passes.Cancel(ctx, p.PassID)
	if err != nil {
		return reconcileResult{}, err
	}
	return reconcileResult{users: []string{pass.UserID}, pass: pass}, nil
}

func (s *reconcilerService) activatePass(ctx context.Context, userID string, product *model.BillingProduct, ref string, start time.Time, meta map[string]string) (*model.Pass, error) {
	end := start.Add(product.PassDuration())
	usage, err := s.usagePeriods(ctx, userID, product.ID, product.Scope, start, end)
	if err != nil {
		return nil, err
	}
	// The usage rows commit with the pass so a gate never sees one without the other.
	pass, created, err := s.store.Passes.Activate(ctx, model.ActivatePassInput{
		UserID:      userID,
		ProductID:   product.ID,
		Scope:       product.Scope,
		PurchaseRef: ref,
		StartsAt:    start,
		EndsAt:      end,
		Metadata:    meta,
		Usage:       usage,
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info().Str("user_id", userID).Str("pass_id", pass.ID).Str("product", product.Code).Msg("Pass activated")
	}
	return pass, nil
}

// initUsage creates zeroed period rows for every finite included allowance of the product.
func (s *reconcilerService) initUsage(ctx context.Context, userID, productID, scope string, start, end time.Time) error {
	periods, err := s.usagePeriods(ctx, userID, productID, scope, start, end)
	if err != nil || len(periods) == 0 {
		return err
	}
	return s.store.Usage.InitPeriods(ctx, periods)
}

func (s *reconcilerService) usagePeriods(ctx context.Context, userID, productID, scope string, start, end time.Time) ([]model.IncludedUsagePeriod, error) {
	ents, err := s.store.Products.ListEntitlements(ctx, []string{productID})
	if err != nil {
		return nil, err
	}
	var periods []model.IncludedUsagePeriod
	for _, ent := range ents[productID] {
		n, ok := ent.Value.Int()
		if !ok || !model.IsAllowanceKey(ent.Key) || n <= 0 || model.IsUnlimited(n) {
			continue
		}
		periods = append(periods, model.IncludedUsagePeriod{
			UserID:      userID,
			ProductID:   productID,
			Scope:       scope,
			MetricKey:   ent.Key,
			PeriodStart: start,
			PeriodEnd:   end,
		})
	}
	return periods, nil
}
