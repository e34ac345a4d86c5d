package model

import "fmt"

// SubscriptionStatus is a state in the subscription state machine.
type SubscriptionStatus string

const (
	SubscriptionTrialing  SubscriptionStatus = "trialing"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Live reports whether the status grants capabilities.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

func (s SubscriptionStatus) Valid() bool {
	_, ok := subscriptionTransitions[s]
	return ok
}

// cancelled has no outgoing edges: only a new checkout completion brings a
// cancelled row back.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionTrialing:  {SubscriptionActive, SubscriptionPastDue, SubscriptionPaused, SubscriptionCancelled},
	SubscriptionActive:    {SubscriptionPastDue, SubscriptionPaused, SubscriptionCancelled},
	SubscriptionPastDue:   {SubscriptionActive, SubscriptionCancelled},
	SubscriptionPaused:    {SubscriptionActive, SubscriptionCancelled},
	SubscriptionCancelled: nil,
}

// CanTransition reports whether from -> to is a legal edge. Self transitions are
// always legal so replays stay no-ops.
func CanTransition(from, to SubscriptionStatus) bool {
	if from == to {
		return from.Valid()
	}
	for _, next := range subscriptionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns to if the edge is legal, ErrInvalidTransition otherwise.
func Transition(from, to SubscriptionStatus) (SubscriptionStatus, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("subscription %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return to, nil
}

// MapProviderStatus translates the payment provider's status vocabulary.
func MapProviderStatus(raw string) (SubscriptionStatus, bool) {
	switch raw {
	case "active":
		return SubscriptionActive, true
	case "trialing":
		return SubscriptionTrialing, true
	case "past_due", "unpaid", "incomplete":
		return SubscriptionPastDue, true
	case "canceled", "cancelled", "incomplete_expired":
		return SubscriptionCancelled, true
	case "paused":
		return SubscriptionPaused, true
	default:
		return "", false
	}
}
