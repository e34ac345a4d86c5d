package repository

import (
	"context"
	"fmt"

	"gatekeeper/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepository is the append-only audit log of raw lifecycle events.
type EventRepository interface {
	// Record stores the event once. firstSeen is false on redelivery.
	Record(ctx context.Context, e model.LifecycleEvent) (firstSeen bool, err error)
	// MarkProcessed stamps the outcome of the latest processing attempt.
	MarkProcessed(ctx context.Context, source model.EventSource, eventID string, procErr error) error
}

type eventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepo creates a new EventRepository.
func NewEventRepo(pool *pgxpool.Pool) EventRepository {
	return &eventRepo{pool: pool}
}

func (r *eventRepo) Record(ctx context.Context, e model.LifecycleEvent) (bool, error) {
	const q = `
		INSERT INTO billing_events (source, event_id, event_type, subject_ref, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source, event_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, q, e.Source, e.ID, e.Type, e.SubjectRef, e.OccurredAt, []byte(e.Payload))
	if err != nil {
		return false, fmt.Errorf("record event %s/%s: %w", e.Source, e.ID, mapErr(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (r *eventRepo) MarkProcessed(ctx context.Context, source model.EventSource, eventID string, procErr error) error {
	var msg *string
	if procErr != nil {
		s := procErr.Error()
		msg = &s
	}
	const q = `
		UPDATE billing_events
		SET processed_at = CASE WHEN $3::text IS NULL THEN NOW() ELSE processed_at END,
		    processing_error = $3
		WHERE source = $1 AND event_id = $2
	`
	if _, err := r.pool.Exec(ctx, q, source, eventID, msg); err != nil {
		return fmt.Errorf("mark event %s/%s processed: %w", source, eventID, mapErr(err))
	}
	return nil
}
