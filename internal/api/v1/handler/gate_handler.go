package handler

import (
	"net/http"

	"gatekeeper/internal/api/v1/dto"
	"gatekeeper/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// GateHandler exposes gate decisions and included-allowance consumption.
type GateHandler struct {
	engine   *service.BillingEngine
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewGateHandler(engine *service.BillingEngine, v *validator.Validate, logger zerolog.Logger) *GateHandler {
	return &GateHandler{engine: engine, validate: v, logger: logger.With().Str("handler", "GateHandler").Logger()}
}

// RegisterRoutes mounts v1 gate and quota routes
func (h *GateHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /gates/check", authMw(http.HandlerFunc(h.CheckGate)))
	mux.Handle("POST /quota/consume", authMw(http.HandlerFunc(h.ConsumeQuota)))
	mux.Handle("GET /quota/remaining", authMw(http.HandlerFunc(h.RemainingQuota)))
}

// CheckGate godoc
// @Summary Decide whether the caller may perform a monetized action
// @Description Always answers 200; failures surface as a blocked decision with reason "unavailable".
// @Tags gates
// @Accept json
// @Produce json
// @Param gate body dto.GateCheckRequest true "Gate check request"
// @Success 200 {object} model.Decision
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Router /gates/check [post]
func (h *GateHandler) CheckGate(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req dto.GateCheckRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	decision := h.engine.CheckGate(r.Context(), user.UserID, req.Gate, req.Params())
	writeJSON(w, http.StatusOK, decision, h.logger)
}

// ConsumeQuota godoc
// @Summary Consume one unit of an included allowance
// @Tags quota
// @Accept json
// @Produce json
// @Param quota body dto.QuotaConsumeRequest true "Metric to consume"
// @Success 200 {object} model.ConsumeResult
// @Failure 400 {string} string "invalid request payload"
// @Failure 503 {string} string "store unavailable"
// @Router /quota/consume [post]
func (h *GateHandler) ConsumeQuota(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req dto.QuotaConsumeRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	res, err := h.engine.ConsumeIncluded(r.Context(), user.UserID, req.MetricKey)
	if err != nil {
		writeError(w, err, "failed to consume allowance", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, res, h.logger)
}

// RemainingQuota godoc
// @Summary Remaining included allowance for a metric
// @Tags quota
// @Produce json
// @Param metric_key query string true "Allowance key"
// @Success 200 {object} model.QuotaStatus
// @Failure 400 {string} string "metric_key is required"
// @Router /quota/remaining [get]
func (h *GateHandler) RemainingQuota(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	key := r.URL.Query().Get("metric_key")
	if key == "" {
		http.Error(w, "metric_key is required", http.StatusBadRequest)
		return
	}
	status, err := h.engine.Quota.Remaining(r.Context(), user.UserID, key)
	if err != nil {
		writeError(w, err, "failed to read allowance", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, status, h.logger)
}
