package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todosync_mutations_total",
			Help: "Total number of task mutations by operation and outcome",
		},
		[]string{"op", "status"},
	)

	mutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "todosync_mutation_duration_seconds",
			Help:    "Time until the backend acknowledged a mutation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	snapshotCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todosync_snapshots_total",
			Help: "Snapshot and error events applied by task caches",
		},
		[]string{"kind"},
	)

	cachedTasks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "todosync_cache_tasks",
			Help:    "Size distribution of applied snapshots",
			Buckets: []float64{0, 5, 10, 50, 100, 500},
		},
	)
)

// status labels an outcome the way the counters expect.
func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
