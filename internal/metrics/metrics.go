package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sitemover"

type Metrics struct {
	registry *prometheus.Registry

	ChunksReceived prometheus.Counter
	ChunksServed   prometheus.Counter
	ChunkBytes     *prometheus.CounterVec
	JobsCreated    *prometheus.CounterVec
	JobsSwept      prometheus.Counter

	Operations       *prometheus.CounterVec
	OperationSeconds *prometheus.HistogramVec
	Rollbacks        *prometheus.CounterVec
	TablesImported   prometheus.Counter
	FilesExtracted   prometheus.Counter
	LockConflicts    *prometheus.CounterVec
}

// New registers collectors on a private registry so several instances can
// coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Upload chunks accepted.",
		}),
		ChunksServed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_served_total",
			Help:      "Download chunks served.",
		}),
		ChunkBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Bytes moved through chunk transfers.",
		}, []string{"direction"}),
		JobsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Chunk jobs created.",
		}, []string{"direction"}),
		JobsSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_swept_total",
			Help:      "Chunk jobs removed by the sweeper.",
		}),
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Finished operations by type and status.",
		}, []string{"type", "status"}),
		OperationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Operation duration.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"type"}),
		Rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Automatic rollbacks by outcome.",
		}, []string{"outcome"}),
		TablesImported: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_imported_total",
			Help:      "Tables written by imports.",
		}),
		FilesExtracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_extracted_total",
			Help:      "Files written by imports.",
		}),
		LockConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_conflicts_total",
			Help:      "Operations refused because a lock was held.",
		}, []string{"lock"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
