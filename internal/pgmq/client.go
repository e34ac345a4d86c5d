package pgmq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gatekeeper/internal/model"

	"github.com/lib/pq"
)

// Client wraps a Postgres DB for pgmq queue operations.
type Client struct {
	db *sql.DB
}

// New returns a new PGMQ client backed by the given DB connection.
func New(db *sql.DB) *Client {
	return &Client{db: db}
}

// Message represents a single pgmq message.
type Message struct {
	ID         int64     // message identifier
	ReadCount  int       // deliveries so far, including this one
	EnqueuedAt time.Time //
	Data       []byte    // raw JSON payload
}

// Create makes sure the queue exists.
func (c *Client) Create(ctx context.Context, queue string) error {
	if _, err := c.db.ExecContext(ctx, "SELECT pgmq.create($1)", queue); err != nil {
		return fmt.Errorf("pgmq create %s failed: %w", queue, err)
	}
	return nil
}

// Send pushes a JSON payload into the given queue, visible after delaySec seconds.
func (c *Client) Send(ctx context.Context, queue string, payload []byte, delaySec int) (int64, error) {
	var id int64
	query := "SELECT pgmq.send($1, $2::jsonb, $3)"
	if err := c.db.QueryRowContext(ctx, query, queue, string(payload), delaySec).Scan(&id); err != nil {
		return 0, fmt.Errorf("pgmq send failed: %w", err)
	}
	return id, nil
}

// ReadWithPoll reads up to maxMessages from the queue, hiding them for vtSec
// seconds and blocking up to pollSec seconds when the queue is empty.
func (c *Client) ReadWithPoll(ctx context.Context, queue string, vtSec, maxMessages, pollSec int) ([]*Message, error) {
	query := "SELECT msg_id, read_ct, enqueued_at, message FROM pgmq.read_with_poll($1, $2, $3, $4)"
	rows, err := c.db.QueryContext(ctx, query, queue, vtSec, maxMessages, pollSec)
	if err != nil {
		return nil, fmt.Errorf("pgmq read_with_poll failed: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ReadCount, &m.EnqueuedAt, &m.Data); err != nil {
			return nil, fmt.Errorf("pgmq read scan failed: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmq read rows error: %w", err)
	}
	return msgs, nil
}

// Delete removes messages by their IDs from the specified queue.
func (c *Client) Delete(ctx context.Context, queue string, msgIDs []int64) error {
	query := "SELECT pgmq.delete($1, $2::bigint[])"
	if _, err := c.db.ExecContext(ctx, query, queue, pq.Array(msgIDs)); err != nil {
		return fmt.Errorf("pgmq delete failed: %w", err)
	}
	return nil
}

// Archive moves a message into the queue's archive table.
func (c *Client) Archive(ctx context.Context, queue string, msgID int64) error {
	if _, err := c.db.ExecContext(ctx, "SELECT pgmq.archive($1, $2::bigint)", queue, msgID); err != nil {
		return fmt.Errorf("pgmq archive failed: %w", err)
	}
	return nil
}

// SetVisibility hides a message for another vtSec seconds.
func (c *Client) SetVisibility(ctx context.Context, queue string, msgID int64, vtSec int) error {
	if _, err := c.db.ExecContext(ctx, "SELECT msg_id FROM pgmq.set_vt($1, $2::bigint, $3)", queue, msgID, vtSec); err != nil {
		return fmt.Errorf("pgmq set_vt failed: %w", err)
	}
	return nil
}

// LifecycleQueue defers lifecycle events to the worker through a pgmq queue.
type LifecycleQueue struct {
	client *Client
	queue  string
}

// NewLifecycleQueue returns a queue writing to the named pgmq queue.
func NewLifecycleQueue(client *Client, queue string) *LifecycleQueue {
	return &LifecycleQueue{client: client, queue: queue}
}

func (q *LifecycleQueue) Enqueue(ctx context.Context, e model.LifecycleEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode lifecycle event %s: %w", e.ID, err)
	}
	if _, err := q.client.Send(ctx, q.queue, payload, 0); err != nil {
		return fmt.Errorf("enqueue lifecycle event %s: %w", e.ID, err)
	}
	return nil
}
