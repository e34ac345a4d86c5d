package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"

	"gatekeeper/internal/api/v1/dto"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/model"
	"gatekeeper/internal/repository"

	"github.com/rs/zerolog"
)

// DLQService parks lifecycle events that could not be applied so an operator
// can inspect and replay them.
type DLQService interface {
	// Record stores a message the queue worker gave up on.
	Record(ctx context.Context, queue, messageID string, payload []byte, attempts int, cause error) error
	// ProcessAndSave stores a message forwarded by a Pub/Sub dead-letter subscription.
	ProcessAndSave(ctx context.Context, req *dto.PubSubPushRequest) error
}

type dlqService struct {
	repo   repository.DLQRepository
	logger zerolog.Logger
}

func NewDLQService(repo repository.DLQRepository, logger zerolog.Logger) DLQService {
	return &dlqService{
		repo:   repo,
		logger: logger.With().Str("service", "DLQService").Logger(),
	}
}

func (s *dlqService) Record(ctx context.Context, queue, messageID string, payload []byte, attempts int, cause error) error {
	msg := &model.DeadLetterMessage{
		QueueName: queue,
		MessageID: messageID,
		EventID:   eventIDOf(payload),
		Payload:   string(payload),
		Attempts:  attempts,
	}
	if cause != nil {
		msg.LastError = cause.Error()
	}
	return s.save(ctx, msg)
}

func (s *dlqService) ProcessAndSave(ctx context.Context, req *dto.PubSubPushRequest) error {
	// Decode the base64-encoded payload
	decodedPayload, err := base64.StdEncoding.DecodeString(req.Message.Data)
	if err != nil {
		// If we can't even decode it, save the raw data
		decodedPayload = []byte(req.Message.Data)
	}

	attempts := req.Message.DeliveryAttempt
	if v, ok := req.Message.Attributes["CloudPubSubDeadLetterSourceDeliveryCount"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			attempts = n
		}
	}

	return s.save(ctx, &model.DeadLetterMessage{
		QueueName: req.Subscription,
		MessageID: req.Message.MessageID,
		EventID:   eventIDOf(decodedPayload),
		Payload:   string(decodedPayload),
		LastError: req.Message.Attributes["last_error"],
		Attempts:  attempts,
	})
}

func (s *dlqService) save(ctx context.Context, msg *model.DeadLetterMessage) error {
	// payload is a JSONB column; keep undecodable bodies as a JSON string.
	if !json.Valid([]byte(msg.Payload)) {
		quoted, _ := json.Marshal(msg.Payload)
		msg.Payload = string(quoted)
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("queue", msg.QueueName).Str("message_id", msg.MessageID).Msg("Failed to store dead letter")
		return err
	}
	metrics.DeadLettersTotal.WithLabelValues(msg.QueueName).Inc()
	s.logger.Warn().
		Str("queue", msg.QueueName).
		Str("message_id", msg.MessageID).
		Str("event_id", msg.EventID).
		Int("attempts", msg.Attempts).
		Str("last_error", msg.LastError).
		Msg("Lifecycle event moved to dead letters")
	return nil
}

// eventIDOf extracts the lifecycle event id from a payload, if it parses.
func eventIDOf(payload []byte) string {
	var e struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &e); err != nil {
		return ""
	}
	return e.ID
}
