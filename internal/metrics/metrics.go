package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GateDecisionsTotal counts gate decisions by gate type and funding source.
	GateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Gate decisions by gate type and source (included, credits, blocked).",
	}, []string{"gate", "source"})

	// GateDuration tracks gate evaluation latency.
	GateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gatekeeper",
		Subsystem: "gate",
		Name:      "duration_seconds",
		Help:      "Gate evaluation duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"gate"})

	// QuotaConsumeTotal counts allowance consumption attempts by outcome.
	QuotaConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "quota",
		Name:      "consume_total",
		Help:      "Included allowance consumption attempts by outcome.",
	}, []string{"outcome"})

	// LedgerOperationsTotal counts credit ledger operations by kind and outcome.
	LedgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Credit ledger operations by kind (add, deduct, refund, allocation) and outcome.",
	}, []string{"kind", "outcome"})

	// LifecycleEventsTotal counts reconciled lifecycle events by type and outcome.
	LifecycleEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "lifecycle",
		Name:      "events_total",
		Help:      "Lifecycle events processed by type and outcome.",
	}, []string{"event_type", "outcome"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gatekeeper",
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// CapabilityCacheTotal counts capability cache lookups by result.
	CapabilityCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Capability cache lookups by result (hit, miss, stale, error).",
	}, []string{"backend", "result"})

	// WorkerMessagesTotal counts lifecycle queue messages by outcome (ack, retry, dead_letter).
	WorkerMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "worker",
		Name:      "messages_total",
		Help:      "Lifecycle queue messages handled by the worker, by outcome.",
	}, []string{"queue", "outcome"})

	// DeadLettersTotal counts lifecycle events parked for manual review.
	DeadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "worker",
		Name:      "dead_letters_total",
		Help:      "Lifecycle events stored as dead letters, by origin queue.",
	}, []string{"queue"})

	// ExpiredUsersTotal counts users whose passes the expiry sweep closed.
	ExpiredUsersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gatekeeper",
		Subsystem: "worker",
		Name:      "expired_users_total",
		Help:      "Users whose overdue passes were expired by the periodic sweep.",
	})
)
