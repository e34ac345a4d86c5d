package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"gatekeeper/internal/api/v1/dto"
	"gatekeeper/internal/model"
	"gatekeeper/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// EventHandler receives lifecycle events and dead letters pushed by Pub/Sub.
type EventHandler struct {
	engine   *service.BillingEngine
	dlq      service.DLQService
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewEventHandler creates an EventHandler. dlq may be nil when no dead-letter
// store is configured; the dead-letter route is then not mounted.
func NewEventHandler(engine *service.BillingEngine, dlq service.DLQService, v *validator.Validate, logger zerolog.Logger) *EventHandler {
	return &EventHandler{engine: engine, dlq: dlq, validate: v, logger: logger.With().Str("handler", "EventHandler").Logger()}
}

func (h *EventHandler) RegisterRoutes(mux *http.ServeMux, pushMw func(http.Handler) http.Handler) {
	mux.Handle("POST /events/lifecycle", pushMw(http.HandlerFunc(h.Lifecycle)))
	if h.dlq != nil {
		mux.Handle("POST /events/dead-letter", pushMw(http.HandlerFunc(h.DeadLetter)))
	}
}

// Lifecycle godoc
// @Summary Pub/Sub push endpoint for lifecycle events
// @Description 204 acknowledges the message. 500 asks Pub/Sub to redeliver.
// @Tags events
// @Accept json
// @Param push body dto.PubSubPushRequest true "Pub/Sub push envelope"
// @Success 204
// @Failure 400 {string} string "invalid push envelope"
// @Failure 500 {string} string "failed to process event"
// @Router /events/lifecycle [post]
func (h *EventHandler) Lifecycle(w http.ResponseWriter, r *http.Request) {
	var req dto.PubSubPushRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	log := h.logger.With().Str("message_id", req.Message.MessageID).Str("subscription", req.Subscription).Logger()

	data, err := base64.StdEncoding.DecodeString(req.Message.Data)
	if err != nil {
		log.Error().Err(err).Msg("Pub/Sub message data is not base64, acknowledging")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	var e model.LifecycleEvent
	if err := json.Unmarshal(data, &e); err != nil {
		log.Error().Err(err).Msg("Pub/Sub message is not a lifecycle event, acknowledging")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.engine.ProcessLifecycleEvent(r.Context(), e); err != nil {
		if !model.IsRetryable(err) {
			log.Error().Err(err).Str("event_id", e.ID).Msg("Dropping unprocessable lifecycle event")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		log.Error().Err(err).Str("event_id", e.ID).Msg("Failed to process lifecycle event")
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeadLetter godoc
// @Summary Pub/Sub push endpoint for the lifecycle dead-letter topic
// @Tags events
// @Accept json
// @Param push body dto.PubSubPushRequest true "Pub/Sub push envelope"
// @Success 204
// @Router /events/dead-letter [post]
func (h *EventHandler) DeadLetter(w http.ResponseWriter, r *http.Request) {
	var req dto.PubSubPushRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	if req.Message.MessageID == "" {
		http.Error(w, "Invalid Pub/Sub message format: missing message ID", http.StatusBadRequest)
		return
	}
	if err := h.dlq.ProcessAndSave(r.Context(), &req); err != nil {
		// Still return 204 to Pub/Sub to prevent retries of a message that is already in the DLQ.
		h.logger.Error().Err(err).Str("message_id", req.Message.MessageID).Msg("Failed to save DLQ message to database")
	}
	w.WriteHeader(http.StatusNoContent)
}
