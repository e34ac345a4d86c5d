package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"gatekeeper/internal/metrics"
	"gatekeeper/internal/model"
	"gatekeeper/internal/service"

	"github.com/rs/zerolog"
)

// maxWebhookBytes matches Stripe's documented payload ceiling.
const maxWebhookBytes = 65536

// WebhookHandler receives Stripe webhooks.
type WebhookHandler struct {
	stripeSvc *service.StripeService
	logger    zerolog.Logger
}

func NewWebhookHandler(stripeSvc *service.StripeService, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{stripeSvc: stripeSvc, logger: logger.With().Str("handler", "WebhookHandler").Logger()}
}

// RegisterRoutes mounts the webhook route. Authentication is the Stripe signature.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.Stripe)
}

// Stripe godoc
// @Summary Stripe webhook receiver
// @Description Verifies the Stripe-Signature header and applies the event. Retryable failures answer 500 so Stripe redelivers.
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]bool
// @Failure 400 {string} string "invalid signature"
// @Failure 500 {string} string "failed to process event"
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		status = http.StatusBadRequest
		h.logger.Warn().Err(err).Msg("Failed to read webhook body")
		http.Error(w, "failed to read body", status)
		return
	}

	event, err := h.stripeSvc.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		status = http.StatusBadRequest
		h.logger.Warn().Err(err).Msg("Stripe webhook signature verification failed")
		http.Error(w, "invalid signature", status)
		return
	}
	eventType = string(event.Type)

	if err := h.stripeSvc.HandleEvent(r.Context(), event, payload); err != nil {
		if !model.IsRetryable(err) {
			// Redelivery cannot fix a malformed or contradictory event.
			h.logger.Error().Err(err).Str("event_id", event.ID).Str("event_type", eventType).Msg("Dropping unprocessable Stripe event")
			writeJSON(w, status, map[string]bool{"received": true}, h.logger)
			return
		}
		status = http.StatusInternalServerError
		h.logger.Error().Err(err).Str("event_id", event.ID).Str("event_type", eventType).Msg("Failed to process Stripe event")
		http.Error(w, "failed to process event", status)
		return
	}
	writeJSON(w, status, map[string]bool{"received": true}, h.logger)
}
