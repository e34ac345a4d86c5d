package handler

import (
	"net/http"

	"gatekeeper/internal/api/v1/dto"
	"gatekeeper/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// BillingHandler handles account status, checkout and portal endpoints.
type BillingHandler struct {
	engine    *service.BillingEngine
	stripeSvc *service.StripeService
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(engine *service.BillingEngine, stripeSvc *service.StripeService, v *validator.Validate, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{engine: engine, stripeSvc: stripeSvc, validate: v, logger: logger.With().Str("handler", "BillingHandler").Logger()}
}

// RegisterRoutes registers the billing endpoints.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("GET /billing/status", authMiddleware(http.HandlerFunc(h.Status)))
	mux.Handle("POST /billing/checkout", authMiddleware(http.HandlerFunc(h.Checkout)))
	mux.Handle("GET /billing/portal", authMiddleware(http.HandlerFunc(h.Portal)))
}

// Status godoc
// @Summary Account overview
// @Description Active tiers per scope, passes, subscriptions, recent purchases, the catalog and the credit balance.
// @Tags billing
// @Produce json
// @Success 200 {object} model.BillingStatus
// @Failure 401 {string} string "unauthorized"
// @Failure 503 {string} string "store unavailable"
// @Router /billing/status [get]
func (h *BillingHandler) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	status, err := h.engine.GetBillingStatus(r.Context(), user.UserID)
	if err != nil {
		writeError(w, err, "failed to load billing status", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, status, h.logger)
}

// Checkout godoc
// @Summary Initiate a Stripe Checkout session for a pass or subscription
// @Description Creates a Stripe Checkout session and returns its URL.
// @Tags billing
// @Accept json
// @Produce json
// @Param checkout body dto.CheckoutRequest true "Checkout request"
// @Success 200 {object} dto.URLResponse "URL of the Stripe Checkout session"
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "unknown product"
// @Failure 500 {string} string "failed to create checkout session"
// @Router /billing/checkout [post]
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req dto.CheckoutRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	url, err := h.stripeSvc.CreateCheckoutSession(r.Context(), *user, req.ProductCode, req.Mode)
	if err != nil {
		writeError(w, err, "failed to create checkout session", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.URLResponse{URL: url}, h.logger)
}

// Portal godoc
// @Summary Create a Stripe Customer Portal session
// @Description Generates a Stripe Customer Portal session URL for the authenticated user.
// @Tags billing
// @Produce json
// @Success 200 {object} dto.URLResponse "URL of the Customer Portal session"
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "no Stripe customer"
// @Failure 500 {string} string "failed to create portal session"
// @Router /billing/portal [get]
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	url, err := h.stripeSvc.CreatePortalSession(r.Context(), user.UserID)
	if err != nil {
		writeError(w, err, "failed to create portal session", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.URLResponse{URL: url}, h.logger)
}
