package handler

import (
	"net/http"

	"gatekeeper/internal/api/v1/dto"
	"gatekeeper/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// AdminHandler serves support operations on passes and credits.
type AdminHandler struct {
	engine   *service.BillingEngine
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewAdminHandler(engine *service.BillingEngine, v *validator.Validate, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, validate: v, logger: logger.With().Str("handler", "AdminHandler").Logger()}
}

func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, adminMw func(http.Handler) http.Handler) {
	mux.Handle("POST /admin/passes/grant", adminMw(http.HandlerFunc(h.GrantPass)))
	mux.Handle("POST /admin/passes/activate", adminMw(http.HandlerFunc(h.ActivatePass)))
	mux.Handle("POST /admin/passes/revoke", adminMw(http.HandlerFunc(h.RevokePass)))
	mux.Handle("POST /admin/credits/grant", adminMw(http.HandlerFunc(h.GrantCredits)))
}

// GrantPass godoc
// @Summary Grant a pass without payment
// @Tags admin
// @Accept json
// @Produce json
// @Param grant body dto.AdminGrantPassRequest true "Grant request"
// @Success 201 {object} model.Pass
// @Failure 404 {string} string "unknown product"
// @Router /admin/passes/grant [post]
func (h *AdminHandler) GrantPass(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req dto.AdminGrantPassRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	pass, err := h.engine.AdminGrantPass(r.Context(), req.UserID, req.ProductCode, admin.UserID)
	if err != nil {
		writeError(w, err, "failed to grant pass", h.logger)
		return
	}
	h.logger.Info().Str("user_id", req.UserID).Str("product", req.ProductCode).Str("granted_by", admin.UserID).Msg("Pass granted")
	writeJSON(w, http.StatusCreated, pass, h.logger)
}

// ActivatePass godoc
// @Summary Activate a pass for a purchase settled outside Stripe
// @Description Idempotent on (user, product, purchase_ref).
// @Tags admin
// @Accept json
// @Produce json
// @Param activation body dto.AdminActivatePassRequest true "Activation request"
// @Success 200 {object} model.Pass
// @Router /admin/passes/activate [post]
func (h *AdminHandler) ActivatePass(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	var req dto.AdminActivatePassRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	pass, err := h.engine.ActivatePass(r.Context(), req.UserID, req.ProductID, req.PurchaseRef, req.Metadata)
	if err != nil {
		writeError(w, err, "failed to activate pass", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, pass, h.logger)
}

// RevokePass godoc
// @Summary Cancel a pass
// @Tags admin
// @Accept json
// @Produce json
// @Param revoke body dto.AdminRevokePassRequest true "Revoke request"
// @Success 200 {object} model.Pass
// @Failure 404 {string} string "unknown pass"
// @Router /admin/passes/revoke [post]
func (h *AdminHandler) RevokePass(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req dto.AdminRevokePassRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	pass, err := h.engine.RevokePass(r.Context(), req.PassID, admin.UserID)
	if err != nil {
		writeError(w, err, "failed to revoke pass", h.logger)
		return
	}
	h.logger.Info().Str("pass_id", req.PassID).Str("revoked_by", admin.UserID).Msg("Pass revoked")
	writeJSON(w, http.StatusOK, pass, h.logger)
}

// GrantCredits godoc
// @Summary Add credits to a user's ledger
// @Tags admin
// @Accept json
// @Produce json
// @Param grant body dto.AdminGrantCreditsRequest true "Credit grant"
// @Success 201 {object} model.CreditLedgerEntry
// @Router /admin/credits/grant [post]
func (h *AdminHandler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req dto.AdminGrantCreditsRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	entry, err := h.engine.Ledger.Add(r.Context(), req.UserID, req.Amount, req.CreditType, req.ReferenceID)
	if err != nil {
		writeError(w, err, "failed to grant credits", h.logger)
		return
	}
	h.logger.Info().Str("user_id", req.UserID).Int64("amount", req.Amount).Str("granted_by", admin.UserID).Msg("Credits granted")
	writeJSON(w, http.StatusCreated, entry, h.logger)
}
