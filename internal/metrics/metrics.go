package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query results.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultCache = "cache_hit"
)

// Metrics holds the retrieval service collectors. All names are prefixed
// with "kbrag_".
//
//   - kbrag_queries_total{mode,result}
//   - kbrag_query_duration_seconds{mode}
//   - kbrag_index_builds_total{result}
//   - kbrag_indexed_chunks
//   - kbrag_retrieval_mode{mode}
type Metrics struct {
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	BuildsTotal   *prometheus.CounterVec
	IndexedChunks prometheus.Gauge
	Mode          *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New registers the collectors on a fresh registry, so several instances
// can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbrag_queries_total",
				Help: "Total number of retrieval queries",
			},
			[]string{"mode", "result"},
		),
		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbrag_query_duration_seconds",
				Help:    "Retrieval query latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"mode"},
		),
		BuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbrag_index_builds_total",
				Help: "Total number of index builds and loads",
			},
			[]string{"result"},
		),
		IndexedChunks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kbrag_indexed_chunks",
				Help: "Number of chunks in the live vector index",
			},
		),
		Mode: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kbrag_retrieval_mode",
				Help: "1 for the active retrieval mode, 0 otherwise",
			},
			[]string{"mode"},
		),
		registry: reg,
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveQuery(mode, result string, took time.Duration) {
	m.QueriesTotal.WithLabelValues(mode, result).Inc()
	m.QueryDuration.WithLabelValues(mode).Observe(took.Seconds())
}

func (m *Metrics) ObserveBuild(result string, chunks int) {
	m.BuildsTotal.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.IndexedChunks.Set(float64(chunks))
	}
}

// SetMode marks mode as active and every other known mode as inactive.
func (m *Metrics) SetMode(mode string, known ...string) {
	for _, k := range known {
		m.Mode.WithLabelValues(k).Set(0)
	}
	m.Mode.WithLabelValues(mode).Set(1)
}
