package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/model"
	"gatekeeper/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	billingsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// EventArchiver keeps a copy of raw provider payloads.
type EventArchiver interface {
	Archive(ctx context.Context, source model.EventSource, eventID string, payload []byte) error
}

// EventQueue defers lifecycle events to the background worker.
type EventQueue interface {
	Enqueue(ctx context.Context, e model.LifecycleEvent) error
}

// StripeSubscription is the part of a Stripe subscription the reconciler needs.
type StripeSubscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	// Older API versions carry the period on the subscription itself.
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	Items              struct {
		Data []StripeSubscriptionItem `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

type StripeSubscriptionItem struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	Price              struct {
		ID string `json:"id"`
	} `json:"price"`
}

// Period returns the current billing period, preferring the first item's bounds.
func (s *StripeSubscription) Period() (time.Time, time.Time) {
	start, end := s.CurrentPeriodStart, s.CurrentPeriodEnd
	if len(s.Items.Data) > 0 && s.Items.Data[0].CurrentPeriodEnd > 0 {
		start, end = s.Items.Data[0].CurrentPeriodStart, s.Items.Data[0].CurrentPeriodEnd
	}
	if end == 0 {
		return time.Time{}, time.Time{}
	}
	return time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC()
}

// stripeCheckoutSession is a minimal checkout.session payload.
type stripeCheckoutSession struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// stripeInvoice is a minimal invoice payload covering both the legacy
// top-level subscription field and the newer parent details.
type stripeInvoice struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Subscription string `json:"subscription"`
			Period       struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv *stripeInvoice) subscriptionID() string {
	if inv.Subscription != "" {
		return inv.Subscription
	}
	if id := inv.Parent.SubscriptionDetails.Subscription; id != "" {
		return id
	}
	for _, line := range inv.Lines.Data {
		if line.Subscription != "" {
			return line.Subscription
		}
	}
	return ""
}

// period returns the latest line period, which is the one the invoice pays for.
func (inv *stripeInvoice) period() (time.Time, time.Time) {
	var start, end int64
	for _, line := range inv.Lines.Data {
		if line.Period.End > end {
			start, end = line.Period.Start, line.Period.End
		}
	}
	if end == 0 {
		return time.Time{}, time.Time{}
	}
	return time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC()
}

// SubscriptionFetcher loads a subscription from Stripe.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, id string) (*StripeSubscription, error)
}

type stripeSubscriptionFetcher struct{}

func (stripeSubscriptionFetcher) FetchSubscription(ctx context.Context, id string) (*StripeSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscriptionpkg.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("fetch stripe subscription %s: %w", id, err)
	}
	out := &StripeSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.Customer = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			entry := StripeSubscriptionItem{}
			entry.CurrentPeriodStart = item.CurrentPeriodStart
			entry.CurrentPeriodEnd = item.CurrentPeriodEnd
			if item.Price != nil {
				entry.Price.ID = item.Price.ID
			}
			out.Items.Data = append(out.Items.Data, entry)
		}
	}
	return out, nil
}

// StripeService translates Stripe webhooks into lifecycle events and opens
// checkout and portal sessions.
type StripeService struct {
	cfg        *config.Config
	store      *repository.Store
	reconciler ReconcilerService
	subs       SubscriptionFetcher
	archiver   EventArchiver
	queue      EventQueue
	logger     zerolog.Logger
}

// StripeOption customizes a StripeService.
type StripeOption func(*StripeService)

// WithSubscriptionFetcher replaces the Stripe API subscription lookup.
func WithSubscriptionFetcher(f SubscriptionFetcher) StripeOption {
	return func(s *StripeService) { s.subs = f }
}

// WithEventArchiver stores every verified webhook payload.
func WithEventArchiver(a EventArchiver) StripeOption {
	return func(s *StripeService) { s.archiver = a }
}

// WithEventQueue hands translated events to a worker instead of applying them inline.
func WithEventQueue(q EventQueue) StripeOption {
	return func(s *StripeService) { s.queue = q }
}

// NewStripeService initializes Stripe key and returns service with a scoped logger
func NewStripeService(cfg *config.Config, store *repository.Store, reconciler ReconcilerService, logger zerolog.Logger, opts ...StripeOption) *StripeService {
	stripe.Key = cfg.StripeSecretKey
	s := &StripeService{
		cfg:        cfg,
		store:      store,
		reconciler: reconciler,
		subs:       stripeSubscriptionFetcher{},
		logger:     logger.With().Str("service", "StripeService").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyWebhook checks the Stripe-Signature header and parses the event.
func (s *StripeService) VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error) {
	if strings.TrimSpace(s.cfg.StripeWebhookSecret) == "" {
		return stripe.Event{}, errors.New("stripe webhook secret not configured")
	}
	return webhook.ConstructEventWithOptions(payload, sigHeader, s.cfg.StripeWebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// HandleEvent archives, translates and applies (or enqueues) a verified event.
// Unhandled event types are acknowledged without effect.
func (s *StripeService) HandleEvent(ctx context.Context, event stripe.Event, raw []byte) error {
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, model.EventSourceStripe, event.ID, raw); err != nil {
			s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to archive Stripe webhook")
		}
	}

	le, err := s.Translate(ctx, event)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("Failed to translate Stripe webhook")
		return err
	}
	if le == nil {
		s.logger.Debug().Str("event_type", string(event.Type)).Msg("Unhandled Stripe webhook event")
		return nil
	}
	if s.queue != nil {
		return s.queue.Enqueue(ctx, *le)
	}
	return s.reconciler.ProcessLifecycleEvent(ctx, *le)
}

// Translate maps a Stripe event onto the provider-neutral lifecycle event.
// It returns nil for events the reconciler does not act on.
func (s *StripeService) Translate(ctx context.Context, event stripe.Event) (*model.LifecycleEvent, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("stripe event %s has no data: %w", event.ID, model.ErrInvalidInput)
	}
	at := time.Unix(event.Created, 0).UTC()
	if event.Created == 0 {
		at = time.Now().UTC()
	}
	build := func(typ model.EventType, subject string, payload any) (*model.LifecycleEvent, error) {
		e, err := model.NewLifecycleEvent(event.ID, model.EventSourceStripe, typ, subject, at, payload)
		if err != nil {
			return nil, err
		}
		return &e, nil
	}

	switch event.Type {
	case "checkout.session.completed":
		var cs stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("decode checkout.session: %w: %v", model.ErrInvalidInput, err)
		}
		p, err := s.checkoutPayload(ctx, cs)
		if err != nil {
			return nil, err
		}
		return build(model.EventCheckoutCompleted, p.UserID, p)

	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w: %v", model.ErrInvalidInput, err)
		}
		subID := inv.subscriptionID()
		if subID == "" {
			s.logger.Info().Str("invoice_id", inv.ID).Msg("Invoice has no subscription, skipping")
			return nil, nil
		}
		start, end := inv.period()
		typ := model.EventInvoicePaid
		if event.Type == "invoice.payment_failed" {
			typ = model.EventInvoicePaymentFailed
		}
		return build(typ, subID, model.InvoicePayload{
			InvoiceID:              inv.ID,
			ProviderSubscriptionID: subID,
			PeriodStart:            start,
			PeriodEnd:              end,
		})

	case "customer.subscription.updated", "customer.subscription.deleted":
		var ss StripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			return nil, fmt.Errorf("decode subscription: %w: %v", model.ErrInvalidInput, err)
		}
		start, end := ss.Period()
		typ := model.EventSubscriptionUpdated
		if event.Type == "customer.subscription.deleted" {
			typ = model.EventSubscriptionDeleted
		}
		return build(typ, ss.ID, model.SubscriptionUpdatedPayload{
			ProviderSubscriptionID: ss.ID,
			Status:                 ss.Status,
			CancelAtPeriodEnd:      ss.CancelAtPeriodEnd,
			PeriodStart:            start,
			PeriodEnd:              end,
		})
	}
	return nil, nil
}

func (s *StripeService) checkoutPayload(ctx context.Context, cs stripeCheckoutSession) (model.CheckoutCompletedPayload, error) {
	userID, err := s.userIDFor(ctx, cs.Metadata, cs.Customer)
	if err != nil {
		return model.CheckoutCompletedPayload{}, err
	}
	p := model.CheckoutCompletedPayload{
		UserID:             userID,
		ProductCode:        cs.Metadata["product_code"],
		Mode:               model.CheckoutMode(cs.Mode),
		SessionID:          cs.ID,
		ProviderCustomerID: cs.Customer,
	}
	if p.ProductCode == "" {
		return p, fmt.Errorf("checkout %s: missing product_code metadata: %w", cs.ID, model.ErrInvalidInput)
	}
	if p.Mode != model.CheckoutModeSubscription {
		return p, nil
	}
	if cs.Subscription == "" {
		return p, fmt.Errorf("checkout %s: subscription mode without subscription: %w", cs.ID, model.ErrInvalidInput)
	}
	sub, err := s.subs.FetchSubscription(ctx, cs.Subscription)
	if err != nil {
		return p, err
	}
	p.ProviderSubscriptionID = sub.ID
	p.Status = sub.Status
	p.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	p.PeriodStart, p.PeriodEnd = sub.Period()
	return p, nil
}

// userIDFor resolves the user from metadata, falling back to the customer mapping.
func (s *StripeService) userIDFor(ctx context.Context, metadata map[string]string, customerID string) (string, error) {
	if userID := metadata["user_id"]; userID != "" {
		return userID, nil
	}
	if customerID == "" {
		return "", fmt.Errorf("cannot determine user: missing metadata and customer id: %w", model.ErrInvalidInput)
	}
	s.logger.Warn().Str("stripe_customer_id", customerID).Msg("Missing user_id metadata; looking up user by customer ID")
	c, err := s.store.Customers.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("lookup user by Stripe customer %s: %w", customerID, err)
	}
	return c.UserID, nil
}

// GetOrCreateCustomer ensures a Stripe Customer exists for a user
func (s *StripeService) GetOrCreateCustomer(ctx context.Context, user model.User) (string, error) {
	c, err := s.store.Customers.Get(ctx, user.UserID)
	if err != nil {
		return "", err
	}
	if c != nil && c.StripeCustomerID != nil && *c.StripeCustomerID != "" {
		return *c.StripeCustomerID, nil
	}
	if _, err := s.store.Customers.Upsert(ctx, user.UserID, user.Email); err != nil {
		return "", err
	}

	params := &stripe.CustomerParams{
		Email:    stripe.String(user.Email),
		Metadata: map[string]string{"user_id": user.UserID},
	}
	params.Context = ctx
	cust, err := customerpkg.New(params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to create Stripe customer")
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	if err := s.store.Customers.SetStripeCustomerID(ctx, user.UserID, cust.ID); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to store stripe customer id")
		return "", fmt.Errorf("store stripe customer id: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession opens a Stripe Checkout session for a product. Pass
// products use a one-off payment; subscription products recur.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, user model.User, productCode string, mode model.CheckoutMode) (string, error) {
	product, err := s.store.Products.GetByCode(ctx, productCode)
	if err != nil {
		return "", err
	}
	switch {
	case mode == model.CheckoutModePayment && !product.SupportsPass(),
		mode == model.CheckoutModeSubscription && !product.SupportsSubscription():
		return "", fmt.Errorf("product %s cannot be bought in %s mode: %w", productCode, mode, model.ErrInvalidInput)
	case mode != model.CheckoutModePayment && mode != model.CheckoutModeSubscription:
		return "", fmt.Errorf("invalid checkout mode %q: %w", mode, model.ErrInvalidInput)
	}

	customerID, err := s.GetOrCreateCustomer(ctx, user)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to get or create Stripe customer for checkout session")
		return "", err
	}

	metadata := map[string]string{"user_id": user.UserID, "product_code": product.Code}
	lineItem := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if product.ProviderPriceID != nil && *product.ProviderPriceID != "" {
		lineItem.Price = product.ProviderPriceID
	} else if mode == model.CheckoutModePayment {
		lineItem.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(product.Currency)),
			UnitAmount: stripe.Int64(product.PriceCents),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(product.Name),
			},
		}
	} else {
		return "", fmt.Errorf("product %s has no provider price: %w", productCode, model.ErrInvalidInput)
	}

	sessParams := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		LineItems:  []*stripe.CheckoutSessionLineItemParams{lineItem},
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(s.cfg.StripePortalReturnURL + "?status=success"),
		CancelURL:  stripe.String(s.cfg.StripePortalReturnURL + "?status=cancel"),
		Metadata:   metadata,
	}
	if mode == model.CheckoutModeSubscription {
		sessParams.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: metadata}
	}
	sessParams.Context = ctx
	sess, err := checkoutsession.New(sessParams)
	if err != nil {
		s.logger.Error().Err(err).Str("product", productCode).Msg("Failed to create Stripe checkout session")
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	if mode == model.CheckoutModePayment {
		purchase := &model.PassPurchase{
			UserID:      user.UserID,
			ProductID:   product.ID,
			Provider:    ProviderStripe,
			ProviderRef: sess.ID,
			AmountCents: product.PriceCents,
			Currency:    product.Currency,
			Status:      model.PurchaseInitiated,
		}
		if err := s.store.Purchases.Create(ctx, purchase); err != nil {
			s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to record pass purchase")
			return "", err
		}
	}
	return sess.URL, nil
}

// CreatePortalSession creates a Stripe Customer Portal session
func (s *StripeService) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	c, err := s.store.Customers.Get(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch customer for portal session")
		return "", fmt.Errorf("fetch customer: %w", err)
	}
	if c == nil || c.StripeCustomerID == nil || *c.StripeCustomerID == "" {
		return "", fmt.Errorf("no stripe customer for user %s: %w", userID, model.ErrNotFound)
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(*c.StripeCustomerID),
		ReturnURL: stripe.String(s.cfg.StripePortalReturnURL),
	}
	params.Context = ctx
	sess, err := billingsession.New(params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create Stripe billing portal session")
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}
