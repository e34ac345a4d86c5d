package model

// GateType selects a gate.
type GateType string

const (
	GatePosting       GateType = "posting"
	GateContactUnlock GateType = "contact_unlock"
	GateRfqResponse   GateType = "rfq_response"
	GateFeature       GateType = "feature"
	GateTier          GateType = "tier"
)

// Listing categories accepted by the posting gate.
const (
	ListingJob = "job"
	ListingGig = "gig"
)

// DecisionSource is the funding source chosen for an action.
type DecisionSource string

const (
	DecisionIncluded DecisionSource = "included"
	DecisionCredits  DecisionSource = "credits"
	DecisionBlocked  DecisionSource = "blocked"
)

// Reasons attached to non-trivial decisions.
const (
	ReasonUnavailable     = "unavailable"
	ReasonLimitReached    = "limit_reached"
	ReasonAllowanceUsedUp = "allowance_exhausted"
	ReasonFeatureDisabled = "feature_not_included"
	ReasonTierTooLow      = "tier_too_low"
	ReasonUnknownListing  = "unknown_listing_type"
	ReasonUnknownTier     = "unknown_tier"
	ReasonInsufficient    = "insufficient"
)

// GateParams carries the gate-specific inputs.
type GateParams struct {
	ListingType  string `json:"listing_type,omitempty"`
	FeatureKey   string `json:"feature_key,omitempty"`
	Scope        string `json:"scope,omitempty"`
	RequiredTier string `json:"required_tier,omitempty"`
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed          bool           `json:"allowed"`
	Source           DecisionSource `json:"source"`
	Limit            *int64         `json:"limit,omitempty"`
	Used             *int64         `json:"used,omitempty"`
	Remaining        *int64         `json:"remaining,omitempty"`
	OverLimit        bool           `json:"over_limit,omitempty"`
	Unlimited        bool           `json:"unlimited,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	UpgradeSuggested bool           `json:"upgrade_suggested,omitempty"`
	CurrentTier      string         `json:"current_tier,omitempty"`
	RequiredTier     string         `json:"required_tier,omitempty"`
}

// Blocked builds a deny decision.
func Blocked(reason string) Decision {
	return Decision{Allowed: false, Source: DecisionBlocked, Reason: reason}
}

// Unavailable is the fail-closed decision used on store or collaborator failure.
func Unavailable() Decision {
	return Decision{Allowed: false, Source: DecisionBlocked, Reason: ReasonUnavailable}
}
