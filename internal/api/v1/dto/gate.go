package dto

import "gatekeeper/internal/model"

// GateCheckRequest asks whether the caller may perform a monetized action.
type GateCheckRequest struct {
	Gate         model.GateType `json:"gate" validate:"required,oneof=posting contact_unlock rfq_response feature tier"`
	ListingType  string         `json:"listing_type,omitempty" validate:"required_if=Gate posting"`
	FeatureKey   string         `json:"feature_key,omitempty" validate:"required_if=Gate feature"`
	Scope        string         `json:"scope,omitempty" validate:"required_if=Gate tier"`
	RequiredTier string         `json:"required_tier,omitempty" validate:"required_if=Gate tier"`
}

// Params converts the request into engine gate parameters.
func (r GateCheckRequest) Params() model.GateParams {
	return model.GateParams{
		ListingType:  r.ListingType,
		FeatureKey:   r.FeatureKey,
		Scope:        r.Scope,
		RequiredTier: r.RequiredTier,
	}
}

// QuotaConsumeRequest takes one unit of an included allowance.
type QuotaConsumeRequest struct {
	MetricKey string `json:"metric_key" validate:"required"`
}
