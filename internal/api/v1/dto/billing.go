package dto

import "gatekeeper/internal/model"

// CheckoutRequest opens a provider checkout for a product.
type CheckoutRequest struct {
	ProductCode string             `json:"product_code" validate:"required"`
	Mode        model.CheckoutMode `json:"mode" validate:"required,oneof=payment subscription"`
}

// URLResponse carries a redirect URL (checkout or portal).
type URLResponse struct {
	URL string `json:"url"`
}
