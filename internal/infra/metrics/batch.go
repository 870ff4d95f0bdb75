package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(batchSubmissionsTotal, batchUploadBytes, reconciledTotal, reconcileLineErrorsTotal) }

var (
	batchSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_submissions_total",
			Help:      "Batch submissions, labeled by result.",
		},
		[]string{"result"}, // 'created', 'quota', 'upload_timeout', 'create_failed', 'error'
	)

	batchUploadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_upload_bytes_total",
		Help:      "Bytes uploaded to the batch service.",
	})

	reconciledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_results_total",
			Help:      "Reconciled result records, labeled by outcome.",
		},
		[]string{"outcome"}, // 'recovered', 'skipped', 'failed'
	)

	reconcileLineErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_line_errors_total",
		Help:      "Result lines that could not be parsed or mapped.",
	})
)

func IncBatchSubmission(result string) {
	batchSubmissionsTotal.WithLabelValues(norm(result)).Inc()
}

func AddUploadBytes(n int64) { batchUploadBytes.Add(float64(n)) }

func AddReconciled(outcome string, n int) {
	if n > 0 {
		reconciledTotal.WithLabelValues(norm(outcome)).Add(float64(n))
	}
}

func IncReconcileLineError() { reconcileLineErrorsTotal.Inc() }
