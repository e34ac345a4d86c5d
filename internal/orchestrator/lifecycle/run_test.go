package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gatekeeper/internal/api/v1/dto"
	"gatekeeper/internal/model"
	"gatekeeper/internal/pgmq"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu      sync.Mutex
	batches [][]*pgmq.Message
	deleted  []int64
	archived []int64
	delayed  map[int64]int
}

func (q *fakeQueue) ReadWithPoll(ctx context.Context, queue string, vtSec, maxMessages, pollSec int) ([]*pgmq.Message, error) {
	q.mu.Lock()
	if len(q.batches) > 0 {
		b := q.batches[0]
		q.batches = q.batches[1:]
		q.mu.Unlock()
		return b, nil
	}
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (q *fakeQueue) Delete(ctx context.Context, queue string, msgIDs []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, msgIDs...)
	return nil
}

func (q *fakeQueue) SetVisibility(ctx context.Context, queue string, msgID int64, vtSec int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.delayed == nil {
		q.delayed = map[int64]int{}
	}
	q.delayed[msgID] = vtSec
	return nil
}

func (q *fakeQueue) Archive(ctx context.Context, queue string, msgID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.archived = append(q.archived, msgID)
	return nil
}

func (q *fakeQueue) deletedIDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.deleted...)
}

type fakeProcessor struct {
	mu   sync.Mutex
	err  error
	seen []string
}

func (p *fakeProcessor) ProcessLifecycleEvent(ctx context.Context, e model.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, e.ID)
	return p.err
}

type deadLetter struct {
	messageID string
	attempts  int
	cause     error
}

type fakeDLQ struct {
	records []deadLetter
	err     error
}

func (d *fakeDLQ) Record(ctx context.Context, queue, messageID string, payload []byte, attempts int, cause error) error {
	if d.err != nil {
		return d.err
	}
	d.records = append(d.records, deadLetter{messageID: messageID, attempts: attempts, cause: cause})
	return nil
}

func (d *fakeDLQ) ProcessAndSave(ctx context.Context, req *dto.PubSubPushRequest) error { return nil }

var testOpts = Options{
	Queue:          "lifecycle_events",
	VisibilitySec:  60,
	MaxMessages:    10,
	PollSec:        1,
	MaxRetries:     3,
	BackoffInitial: 2 * time.Second,
	BackoffMax:     10 * time.Second,
}

func message(id int64, readCount int, data string) *pgmq.Message {
	return &pgmq.Message{ID: id, ReadCount: readCount, Data: []byte(data)}
}

const invoiceEvent = `{"id":"evt_1","source":"stripe","type":"invoice.paid","occurred_at":"2026-01-01T00:00:00Z","payload":{}}`

func TestHandleAcknowledgesProcessedEvent(t *testing.T) {
	q, proc, dlq := &fakeQueue{}, &fakeProcessor{}, &fakeDLQ{}
	w := NewWorker(q, proc, dlq, testOpts, zerolog.Nop())

	w.Handle(context.Background(), message(1, 1, invoiceEvent))

	assert.Equal(t, []string{"evt_1"}, proc.seen)
	assert.Equal(t, []int64{1}, q.deleted)
	assert.Empty(t, dlq.records)
}

func TestHandleRetriesWithBackoff(t *testing.T) {
	q, dlq := &fakeQueue{}, &fakeDLQ{}
	proc := &fakeProcessor{err: model.ErrStoreUnavailable}
	w := NewWorker(q, proc, dlq, testOpts, zerolog.Nop())

	w.Handle(context.Background(), message(1, 1, invoiceEvent))
	w.Handle(context.Background(), message(2, 2, invoiceEvent))

	assert.Empty(t, q.deleted)
	assert.Equal(t, map[int64]int{1: 2, 2: 4}, q.delayed)
	assert.Empty(t, dlq.records)
}

func TestHandleDeadLettersAfterMaxRetries(t *testing.T) {
	q, dlq := &fakeQueue{}, &fakeDLQ{}
	proc := &fakeProcessor{err: model.ErrStoreUnavailable}
	w := NewWorker(q, proc, dlq, testOpts, zerolog.Nop())

	w.Handle(context.Background(), message(7, 3, invoiceEvent))

	assert.Equal(t, []int64{7}, q.archived)
	assert.Empty(t, q.deleted)
	require.Len(t, dlq.records, 1)
	assert.Equal(t, "7", dlq.records[0].messageID)
	assert.Equal(t, 3, dlq.records[0].attempts)
	assert.True(t, errors.Is(dlq.records[0].cause, model.ErrStoreUnavailable))
}

func TestHandleDeadLettersPermanentFailures(t *testing.T) {
	q, dlq := &fakeQueue{}, &fakeDLQ{}
	proc := &fakeProcessor{err: model.ErrInvalidTransition}
	w := NewWorker(q, proc, dlq, testOpts, zerolog.Nop())

	w.Handle(context.Background(), message(1, 1, invoiceEvent))
	w.Handle(context.Background(), message(2, 1, "{not json"))

	assert.Equal(t, []int64{1, 2}, q.archived)
	require.Len(t, dlq.records, 2)
	assert.True(t, errors.Is(dlq.records[1].cause, model.ErrInvalidInput))
	assert.Len(t, proc.seen, 1, "undecodable messages never reach the reconciler")
}

func TestHandleKeepsMessageWhenDeadLetterStoreFails(t *testing.T) {
	q := &fakeQueue{}
	dlq := &fakeDLQ{err: errors.New("db down")}
	w := NewWorker(q, &fakeProcessor{err: model.ErrInvalidInput}, dlq, testOpts, zerolog.Nop())

	w.Handle(context.Background(), message(1, 1, invoiceEvent))

	assert.Empty(t, q.deleted)
	assert.Empty(t, q.archived)
	assert.Contains(t, q.delayed, int64(1))
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, time.Minute},
		{50, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, time.Second, time.Minute), "attempt %d", tt.attempt)
	}
	assert.Equal(t, time.Second, Backoff(3, 0, 0))
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	q := &fakeQueue{batches: [][]*pgmq.Message{{message(1, 1, invoiceEvent), message(2, 1, invoiceEvent)}}}
	proc := &fakeProcessor{}
	w := NewWorker(q, proc, &fakeDLQ{}, testOpts, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(q.deletedIDs()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
