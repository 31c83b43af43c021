package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors owned by the indexing pipeline.
type Metrics struct {
	// runsTotal counts finished reindex runs by outcome: "ready", "failed",
	// "conflict", or "not_found".
	runsTotal *prometheus.CounterVec

	// durationSeconds records the wall-clock time of runs that reached a
	// terminal status.
	durationSeconds *prometheus.HistogramVec

	// chunksTotal counts chunks written by successful runs.
	chunksTotal prometheus.Counter
}

// NewMetrics registers the pipeline metrics against reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semsearch",
			Subsystem: "reindex",
			Name:      "runs_total",
			Help:      "Total number of reindex runs, partitioned by outcome.",
		}, []string{"outcome"}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semsearch",
			Subsystem: "reindex",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of reindex runs from INDEXING to a terminal status.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 180, 300},
		}, []string{"outcome"}),

		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "semsearch",
			Subsystem: "reindex",
			Name:      "chunks_total",
			Help:      "Total number of chunks written by successful reindex runs.",
		}),
	}
}
