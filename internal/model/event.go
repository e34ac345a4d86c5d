package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventSource identifies where a lifecycle event came from.
type EventSource string

const (
	EventSourceStripe   EventSource = "stripe"
	EventSourceInternal EventSource = "internal"
	EventSourceAdmin    EventSource = "admin"
)

// EventType is the provider-neutral lifecycle event kind.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout.completed"
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventSubscriptionUpdated  EventType = "subscription.updated"
	EventSubscriptionDeleted  EventType = "subscription.deleted"
	EventPassPurchased        EventType = "pass.purchased"
	EventPassGranted          EventType = "pass.granted"
	EventPassRevoked          EventType = "pass.revoked"
)

// LifecycleEvent is a payment or grant event awaiting reconciliation.
// (Source, ID) is unique; redeliveries carry the same pair.
type LifecycleEvent struct {
	ID         string          `json:"id" validate:"required"`
	Source     EventSource     `json:"source" validate:"required"`
	Type       EventType       `json:"type" validate:"required"`
	SubjectRef string          `json:"subject_ref"`
	OccurredAt time.Time       `json:"occurred_at" validate:"required"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
}

// DecodePayload unmarshals the payload into dst.
func (e LifecycleEvent) DecodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload for event %s: %w: %v", e.Type, e.ID, ErrInvalidInput, err)
	}
	return nil
}

// NewLifecycleEvent marshals payload into a new event.
func NewLifecycleEvent(id string, source EventSource, typ EventType, subject string, at time.Time, payload any) (LifecycleEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return LifecycleEvent{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return LifecycleEvent{ID: id, Source: source, Type: typ, SubjectRef: subject, OccurredAt: at, Payload: raw}, nil
}

// CheckoutMode distinguishes one-off pass checkouts from subscription checkouts.
type CheckoutMode string

const (
	CheckoutModePayment      CheckoutMode = "payment"
	CheckoutModeSubscription CheckoutMode = "subscription"
)

// CheckoutCompletedPayload is carried by EventCheckoutCompleted.
type CheckoutCompletedPayload struct {
	UserID                 string       `json:"user_id"`
	ProductCode            string       `json:"product_code"`
	Mode                   CheckoutMode `json:"mode"`
	SessionID              string       `json:"session_id"`
	ProviderSubscriptionID string       `json:"provider_subscription_id,omitempty"`
	ProviderCustomerID     string       `json:"provider_customer_id,omitempty"`
	Status                 string       `json:"status,omitempty"`
	PeriodStart            time.Time    `json:"period_start,omitempty"`
	PeriodEnd              time.Time    `json:"period_end,omitempty"`
	CancelAtPeriodEnd      bool         `json:"cancel_at_period_end,omitempty"`
}

// InvoicePayload is carried by EventInvoicePaid and EventInvoicePaymentFailed.
type InvoicePayload struct {
	InvoiceID              string    `json:"invoice_id"`
	ProviderSubscriptionID string    `json:"provider_subscription_id"`
	PeriodStart            time.Time `json:"period_start"`
	PeriodEnd              time.Time `json:"period_end"`
}

// SubscriptionUpdatedPayload is carried by EventSubscriptionUpdated and EventSubscriptionDeleted.
type SubscriptionUpdatedPayload struct {
	ProviderSubscriptionID string    `json:"provider_subscription_id"`
	Status                 string    `json:"status"`
	CancelAtPeriodEnd      bool      `json:"cancel_at_period_end"`
	PeriodStart            time.Time `json:"period_start,omitempty"`
	PeriodEnd              time.Time `json:"period_end,omitempty"`
}

// PassPurchasedPayload is carried by EventPassPurchased.
type PassPurchasedPayload struct {
	UserID      string            `json:"user_id"`
	ProductID   string            `json:"product_id,omitempty"`
	ProductCode string            `json:"product_code,omitempty"`
	PurchaseRef string            `json:"purchase_ref"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PassGrantedPayload is carried by EventPassGranted.
type PassGrantedPayload struct {
	UserID      string `json:"user_id"`
	ProductCode string `json:"product_code"`
	GrantedBy   string `json:"granted_by"`
}

// PassRevokedPayload is carried by EventPassRevoked.
type PassRevokedPayload struct {
	PassID    string `json:"pass_id"`
	RevokedBy string `json:"revoked_by,omitempty"`
}

// EntitlementsChanged is published after a lifecycle event changed a user's state.
type EntitlementsChanged struct {
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	At        time.Time `json:"at"`
}
