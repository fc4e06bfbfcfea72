package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Action queue ────────────────────────────────────────────────────────────

	QueueActionsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bobs",
		Subsystem: "queue",
		Name:      "actions_admitted_total",
		Help:      "Total actions admitted into the action queue.",
	})

	QueueActionsDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bobs",
		Subsystem: "queue",
		Name:      "actions_denied_total",
		Help:      "Total registrations denied because the concurrency ceiling was reached.",
	})

	QueueActionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bobs",
		Subsystem: "queue",
		Name:      "actions_running",
		Help:      "Actions currently in the LOADING state.",
	})

	QueueCleanupRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bobs",
		Subsystem: "queue",
		Name:      "cleanup_removed_total",
		Help:      "Total completed actions removed by cleanup sweeps.",
	})

	// ─── Executor ────────────────────────────────────────────────────────────────

	ExecutorOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bobs",
		Subsystem: "executor",
		Name:      "operations_total",
		Help:      "Total finished operations, labelled by operation and terminal state.",
	}, []string{"operation", "state"})

	ExecutorDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bobs",
		Subsystem: "executor",
		Name:      "operation_duration_seconds",
		Help:      "End-to-end operation time in seconds, retries and backoff included.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation"})

	ExecutorRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bobs",
		Subsystem: "executor",
		Name:      "retries_total",
		Help:      "Total retry attempts scheduled.",
	}, []string{"operation"})

	ExecutorErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bobs",
		Subsystem: "executor",
		Name:      "errors_total",
		Help:      "Total failed attempts, labelled by error code.",
	}, []string{"operation", "code"})

	// ─── API ─────────────────────────────────────────────────────────────────────

	APIActionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bobs",
		Subsystem: "api",
		Name:      "actions_submitted_total",
		Help:      "Total actions submitted through the HTTP API, labelled by outcome.",
	}, []string{"operation", "outcome"})

	APIRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bobs",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total submissions rejected by the rate limiter.",
	})

	// ─── Event publisher ─────────────────────────────────────────────────────────

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bobs",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total queue change events published, labelled by change type and result.",
	}, []string{"type", "result"})
)
