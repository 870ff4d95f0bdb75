package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(splitRunsTotal, splitPartsTotal) }

var (
	splitRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "split_runs_total",
		Help:      "Completed split operations.",
	})

	splitPartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "split_parts_written_total",
		Help:      "Part files written across all streams.",
	})
)

func ObserveSplit(streams, parts int) {
	splitRunsTotal.Inc()
	splitPartsTotal.Add(float64(streams * parts))
}
