package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(itemsProcessedTotal, itemAttemptsTotal, limiterWaitSeconds, jobTransitionsTotal, invocationsTotal)
}

var (
	itemsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Work items checkpointed by the worker, labeled by outcome.",
		},
		[]string{"outcome"}, // 'succeeded', 'failed'
	)

	itemAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "item_attempts_total",
		Help:      "Downstream requests issued, retries included.",
	})

	limiterWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "limiter_wait_seconds",
		Help:      "Time spent blocked on the sliding window.",
		Buckets:   []float64{0.001, 0.01, 0.1, 1, 5, 15, 30, 60},
	})

	jobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Job status transitions, labeled by target status.",
		},
		[]string{"status"},
	)

	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_invocations_total",
			Help:      "Worker invocations, labeled by result.",
		},
		[]string{"result"}, // 'idle', 'partial', 'done', 'error'
	)
)

func IncItemProcessed(outcome string) {
	itemsProcessedTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncItemAttempt() { itemAttemptsTotal.Inc() }

func ObserveLimiterWait(d time.Duration) { limiterWaitSeconds.Observe(d.Seconds()) }

func IncJobTransition(status string) {
	jobTransitionsTotal.WithLabelValues(norm(status)).Inc()
}

func IncInvocation(result string) {
	invocationsTotal.WithLabelValues(norm(result)).Inc()
}
