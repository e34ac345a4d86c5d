package model

import "time"

// DeadLetterMessage is a lifecycle event that exhausted its retries.
type DeadLetterMessage struct {
	ID        string    `db:"id"`
	QueueName string    `db:"queue_name"`
	MessageID string    `db:"message_id"`
	EventID   string    `db:"event_id"`
	Payload   string    `db:"payload"`
	LastError string    `db:"last_error"`
	Attempts  int       `db:"attempts"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
