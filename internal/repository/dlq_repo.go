package repository

import (
	"context"
	"database/sql"
	"fmt"

	"gatekeeper/internal/model"
)

// DLQRepository persists lifecycle events that exhausted their retries.
type DLQRepository interface {
	Create(ctx context.Context, message *model.DeadLetterMessage) error
}

type dlqRepository struct {
	db *sql.DB
}

// NewDLQRepository creates a DLQRepository on the worker's database/sql handle.
func NewDLQRepository(db *sql.DB) DLQRepository {
	return &dlqRepository{db: db}
}

func (r *dlqRepository) Create(ctx context.Context, message *model.DeadLetterMessage) error {
	if message.Status == "" {
		message.Status = "unprocessed"
	}
	const query = `
		INSERT INTO dead_letter_messages (queue_name, message_id, event_id, payload, last_error, attempts, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		message.QueueName,
		message.MessageID,
		message.EventID,
		message.Payload,
		message.LastError,
		message.Attempts,
		message.Status,
	)
	if err != nil {
		return fmt.Errorf("store dead letter %s from %s: %w", message.MessageID, message.QueueName, err)
	}
	return nil
}
