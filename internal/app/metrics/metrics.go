package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reward_engine",
			Subsystem: "sessions",
			Name:      "transitions_total",
			Help:      "Total number of focus session state transitions.",
		},
		[]string{"transition"},
	)

	creditsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reward_engine",
			Subsystem: "ledger",
			Name:      "credits_total",
			Help:      "Total number of reward credit attempts by outcome.",
		},
		[]string{"outcome"},
	)

	creditsClamped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reward_engine",
			Subsystem: "ledger",
			Name:      "credits_clamped_total",
			Help:      "Total number of credits reduced by a balance ceiling.",
		},
	)

	creditDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "reward_engine",
			Subsystem: "ledger",
			Name:      "credit_duration_seconds",
			Help:      "Duration of atomic reward credit operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	reconcilerRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reward_engine",
			Subsystem: "reconciler",
			Name:      "retries_total",
			Help:      "Total number of orphaned sessions re-driven by the reconciler.",
		},
	)
)

func init() {
	Registry.MustRegister(
		sessionTransitions,
		creditsApplied,
		creditsClamped,
		creditDuration,
		reconcilerRetries,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordSessionTransition records one state machine transition.
func RecordSessionTransition(transition string) {
	sessionTransitions.WithLabelValues(transition).Inc()
}

// RecordCredit records the outcome of a credit attempt: "applied",
// "replayed", or "failed".
func RecordCredit(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	creditsApplied.WithLabelValues(outcome).Inc()
	creditDuration.Observe(duration.Seconds())
}

// RecordClamp records a credit reduced by a balance ceiling.
func RecordClamp() {
	creditsClamped.Inc()
}

// RecordReconcilerRetry records one orphaned session picked up for
// re-crediting.
func RecordReconcilerRetry() {
	reconcilerRetries.Inc()
}
