package handler

import (
	"net/http"

	"gatekeeper/internal/api/v1/dto"
	"gatekeeper/internal/model"
	"gatekeeper/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	defaultLedgerPage = 50
	maxLedgerPage     = 200
)

// CreditHandler exposes the caller's credit ledger.
type CreditHandler struct {
	engine   *service.BillingEngine
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewCreditHandler(engine *service.BillingEngine, v *validator.Validate, logger zerolog.Logger) *CreditHandler {
	return &CreditHandler{engine: engine, validate: v, logger: logger.With().Str("handler", "CreditHandler").Logger()}
}

func (h *CreditHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /credits/charge", authMw(http.HandlerFunc(h.Charge)))
	mux.Handle("GET /credits/balance", authMw(http.HandlerFunc(h.Balance)))
	mux.Handle("GET /credits/ledger", authMw(http.HandlerFunc(h.Ledger)))
	mux.Handle("GET /credits/summary", authMw(http.HandlerFunc(h.Summary)))
	mux.HandleFunc("GET /credits/packages", h.Packages)
}

// Charge godoc
// @Summary Pay for an action with credits
// @Description An insufficient balance is not an error: the result has success=false and reason "insufficient".
// @Tags credits
// @Accept json
// @Produce json
// @Param charge body dto.CreditChargeRequest true "Charge request"
// @Success 200 {object} model.ChargeResult
// @Failure 400 {string} string "invalid request payload"
// @Failure 503 {string} string "store unavailable"
// @Router /credits/charge [post]
func (h *CreditHandler) Charge(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req dto.CreditChargeRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	res, err := h.engine.ChargeCredits(r.Context(), user.UserID, req.CreditType, req.ReferenceID)
	if err != nil {
		writeError(w, err, "failed to charge credits", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, res, h.logger)
}

// Balance godoc
// @Summary Current credit balance
// @Tags credits
// @Produce json
// @Success 200 {object} dto.BalanceResponse
// @Router /credits/balance [get]
func (h *CreditHandler) Balance(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	balance, err := h.engine.Ledger.Balance(r.Context(), user.UserID)
	if err != nil {
		writeError(w, err, "failed to read balance", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.BalanceResponse{UserID: user.UserID, Balance: balance}, h.logger)
}

// Ledger godoc
// @Summary Ledger entries, newest first
// @Tags credits
// @Produce json
// @Param limit query int false "Page size (max 200)"
// @Param offset query int false "Entries to skip"
// @Success 200 {object} dto.LedgerResponse
// @Router /credits/ledger [get]
func (h *CreditHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, okLimit := queryInt(r, "limit", defaultLedgerPage)
	offset, okOffset := queryInt(r, "offset", 0)
	if !okLimit || !okOffset {
		http.Error(w, "limit and offset must be non-negative integers", http.StatusBadRequest)
		return
	}
	if limit == 0 || limit > maxLedgerPage {
		limit = maxLedgerPage
	}
	entries, err := h.engine.Ledger.History(r.Context(), user.UserID, limit, offset)
	if err != nil {
		writeError(w, err, "failed to read ledger", h.logger)
		return
	}
	if entries == nil {
		entries = []model.CreditLedgerEntry{}
	}
	writeJSON(w, http.StatusOK, dto.LedgerResponse{Entries: entries, Limit: limit, Offset: offset}, h.logger)
}

// Summary godoc
// @Summary Aggregated ledger figures
// @Tags credits
// @Produce json
// @Success 200 {object} model.CreditSummary
// @Router /credits/summary [get]
func (h *CreditHandler) Summary(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	summary, err := h.engine.Ledger.Summary(r.Context(), user.UserID)
	if err != nil {
		writeError(w, err, "failed to summarize ledger", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, summary, h.logger)
}

// Packages godoc
// @Summary Credit bundles on sale
// @Tags credits
// @Produce json
// @Success 200 {array} model.CreditPackage
// @Router /credits/packages [get]
func (h *CreditHandler) Packages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.CreditPackages, h.logger)
}
