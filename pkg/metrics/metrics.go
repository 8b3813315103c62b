// Package metrics defines the Prometheus metric collectors used across the
// catalog and exposes an HTTP handler for scraping. All recording methods are
// safe to call on a nil *Metrics so components can run without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the catalog.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	IngestRunsTotal      *prometheus.CounterVec
	IngestRunDuration    prometheus.Histogram
	FilesParsedTotal     *prometheus.CounterVec
	IndexRecords         prometheus.Gauge
	IndexGeneratedAt     prometheus.Gauge
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg uses the
// global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		IngestRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_ingest_runs_total",
				Help: "Ingestion runs by outcome (published, failed, busy).",
			},
			[]string{"status"},
		),
		IngestRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalog_ingest_run_duration_seconds",
				Help:    "Wall-clock duration of ingestion runs.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
			},
		),
		FilesParsedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_files_parsed_total",
				Help: "Source files parsed by result (ok, failed).",
			},
			[]string{"result"},
		),
		IndexRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_index_records",
				Help: "Number of records in the currently published snapshot.",
			},
		),
		IndexGeneratedAt: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_index_generated_timestamp_seconds",
				Help: "Generation time of the currently published snapshot.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_queries_total",
				Help: "Query service calls by operation and result (ok, not_found, empty, uninitialized).",
			},
			[]string{"op", "result"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_query_latency_seconds",
				Help:    "Query service latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"op"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.IngestRunsTotal,
		m.IngestRunDuration,
		m.FilesParsedTotal,
		m.IndexRecords,
		m.IndexGeneratedAt,
		m.QueriesTotal,
		m.QueryLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.IngestRunsTotal.WithLabelValues(status).Inc()
	if d > 0 {
		m.IngestRunDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) FileParsed(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.FilesParsedTotal.WithLabelValues(result).Inc()
}

// SnapshotPublished records the size and age of a newly visible snapshot.
func (m *Metrics) SnapshotPublished(records int, generatedAt time.Time) {
	if m == nil {
		return
	}
	m.IndexRecords.Set(float64(records))
	m.IndexGeneratedAt.Set(float64(generatedAt.Unix()))
}

func (m *Metrics) ObserveQuery(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(op, result).Inc()
	m.QueryLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
