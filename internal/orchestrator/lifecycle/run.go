package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/model"
	"gatekeeper/internal/pgmq"
	"gatekeeper/internal/service"

	"github.com/rs/zerolog"
)

// Queue is the part of the pgmq client the worker drives.
type Queue interface {
	ReadWithPoll(ctx context.Context, queue string, vtSec, maxMessages, pollSec int) ([]*pgmq.Message, error)
	Delete(ctx context.Context, queue string, msgIDs []int64) error
	SetVisibility(ctx context.Context, queue string, msgID int64, vtSec int) error
	Archive(ctx context.Context, queue string, msgID int64) error
}

// Processor applies lifecycle events.
type Processor interface {
	ProcessLifecycleEvent(ctx context.Context, e model.LifecycleEvent) error
}

// Options tune polling, retries and backoff.
type Options struct {
	Queue          string
	VisibilitySec  int
	MaxMessages    int
	PollSec        int
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// OptionsFromConfig reads the LIFECYCLE_* settings.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Queue:          cfg.LifecycleQueueName,
		VisibilitySec:  cfg.LifecycleVisibilityTimeout,
		MaxMessages:    cfg.LifecyclePollMaxMsg,
		PollSec:        cfg.LifecyclePollTimeoutSec,
		MaxRetries:     cfg.LifecycleMaxRetries,
		BackoffInitial: time.Duration(cfg.LifecycleBackoffInitialSec) * time.Second,
		BackoffMax:     time.Duration(cfg.LifecycleBackoffMaxSec) * time.Second,
	}
}

// Worker drains the lifecycle queue into the reconciler.
type Worker struct {
	queue  Queue
	proc   Processor
	dlq    service.DLQService
	opts   Options
	logger zerolog.Logger
}

func NewWorker(queue Queue, proc Processor, dlq service.DLQService, opts Options, logger zerolog.Logger) *Worker {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 1
	}
	return &Worker{
		queue:  queue,
		proc:   proc,
		dlq:    dlq,
		opts:   opts,
		logger: logger.With().Str("orchestrator", "lifecycle").Str("queue", opts.Queue).Logger(),
	}
}

// Run starts the lifecycle orchestrator.
func Run(ctx context.Context, logger zerolog.Logger, client *pgmq.Client, proc Processor, dlq service.DLQService, opts Options) error {
	return NewWorker(client, proc, dlq, opts, logger).Run(ctx)
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("max_retries", w.opts.MaxRetries).Msg("Starting lifecycle orchestrator")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Shutting down lifecycle orchestrator")
			return nil
		default:
		}

		msgs, err := w.queue.ReadWithPoll(ctx, w.opts.Queue, w.opts.VisibilitySec, w.opts.MaxMessages, w.opts.PollSec)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("Error reading lifecycle queue")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			w.Handle(ctx, msg)
		}
	}
}

// Handle applies one message and acknowledges, delays or dead-letters it.
func (w *Worker) Handle(ctx context.Context, msg *pgmq.Message) {
	log := w.logger.With().Int64("msg_id", msg.ID).Int("read_count", msg.ReadCount).Time("enqueued_at", msg.EnqueuedAt).Logger()

	var e model.LifecycleEvent
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		w.deadLetter(ctx, log, msg, fmt.Errorf("decode lifecycle event: %w: %v", model.ErrInvalidInput, err))
		return
	}
	log = log.With().Str("event_id", e.ID).Str("event_type", string(e.Type)).Logger()

	err := w.proc.ProcessLifecycleEvent(ctx, e)
	switch {
	case err == nil:
		w.ack(ctx, log, msg)
	case !model.IsRetryable(err) || msg.ReadCount >= w.opts.MaxRetries:
		w.deadLetter(ctx, log, msg, err)
	default:
		w.retry(ctx, log, msg, err)
	}
}

func (w *Worker) ack(ctx context.Context, log zerolog.Logger, msg *pgmq.Message) {
	if err := w.queue.Delete(ctx, w.opts.Queue, []int64{msg.ID}); err != nil {
		log.Error().Err(err).Msg("Error deleting lifecycle message")
		return
	}
	metrics.WorkerMessagesTotal.WithLabelValues(w.opts.Queue, "ack").Inc()
	log.Debug().Msg("Lifecycle message processed")
}

func (w *Worker) retry(ctx context.Context, log zerolog.Logger, msg *pgmq.Message, cause error) {
	delay := Backoff(msg.ReadCount, w.opts.BackoffInitial, w.opts.BackoffMax)
	if err := w.queue.SetVisibility(ctx, w.opts.Queue, msg.ID, int(delay/time.Second)); err != nil {
		// The visibility timeout set by the read still expires, so the message comes back anyway.
		log.Error().Err(err).Msg("Error delaying lifecycle message")
	}
	metrics.WorkerMessagesTotal.WithLabelValues(w.opts.Queue, "retry").Inc()
	log.Warn().Err(cause).Dur("retry_in", delay).Msg("Lifecycle event failed, will retry")
}

func (w *Worker) deadLetter(ctx context.Context, log zerolog.Logger, msg *pgmq.Message, cause error) {
	if err := w.dlq.Record(ctx, w.opts.Queue, strconv.FormatInt(msg.ID, 10), msg.Data, msg.ReadCount, cause); err != nil {
		// Keep the message queued rather than lose it.
		log.Error().Err(err).Msg("Error storing dead letter, leaving message queued")
		w.retry(ctx, log, msg, cause)
		return
	}
	// pgmq.archive keeps the row in the queue archive table.
	if err := w.queue.Archive(ctx, w.opts.Queue, msg.ID); err != nil {
		log.Error().Err(err).Msg("Error archiving dead-lettered message")
		if err := w.queue.Delete(ctx, w.opts.Queue, []int64{msg.ID}); err != nil {
			log.Error().Err(err).Msg("Error deleting dead-lettered message")
		}
	}
	metrics.WorkerMessagesTotal.WithLabelValues(w.opts.Queue, "dead_letter").Inc()
	log.Error().Err(cause).Msg("Lifecycle event moved to dead letters")
}

// Backoff returns the delay before delivery attempt+1: initial doubled per
// attempt, capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
