package kvlite

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector is an additive observability collaborator: nothing in
// the StorageEngine's semantics depends on it, and a Cache built with a nil
// collector uses NopMetrics. It exists so operators can wire the engine's
// hit/miss/cascade/cleanup counters into Prometheus, the way the retrieved
// cuemby-warren repo wires its own subsystem counters in pkg/metrics.
type MetricsCollector interface {
	IncHit(partition string)
	IncMiss(partition string)
	IncUpsert(partition string)
	IncRemove(partition string)
	IncCascadeDeleted(partition string, n int)
	IncCleanupSwept(partition string, n int)
	IncTamperDetected(partition string)
	ObserveCompressionRatio(partition string, ratio float64)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) IncHit(string)                           {}
func (NopMetrics) IncMiss(string)                          {}
func (NopMetrics) IncUpsert(string)                        {}
func (NopMetrics) IncRemove(string)                        {}
func (NopMetrics) IncCascadeDeleted(string, int)           {}
func (NopMetrics) IncCleanupSwept(string, int)             {}
func (NopMetrics) IncTamperDetected(string)                {}
func (NopMetrics) ObserveCompressionRatio(string, float64) {}

// PrometheusMetrics is the default MetricsCollector, backed by
// github.com/prometheus/client_golang, matching the CounterVec/GaugeVec
// style the cuemby-warren repo uses in pkg/metrics/metrics.go.
type PrometheusMetrics struct {
	hits               *prometheus.CounterVec
	misses             *prometheus.CounterVec
	upserts            *prometheus.CounterVec
	removes            *prometheus.CounterVec
	cascadeDeleted     *prometheus.CounterVec
	cleanupSwept       *prometheus.CounterVec
	tamperDetected     *prometheus.CounterVec
	compressionRatio   *prometheus.HistogramVec
}

// NewPrometheusMetrics constructs a PrometheusMetrics and registers its
// collectors against reg. Pass prometheus.DefaultRegisterer for the global
// registry, or a fresh *prometheus.Registry in tests.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvlite_hits_total",
			Help: "Number of Get/Peek calls that found a live row.",
		}, []string{"partition"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvlite_misses_total",
			Help: "Number of Get/Peek calls that found no live row.",
		}, []string{"partition"}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvlite_upserts_total",
			Help: "Number of successful AddTimed/AddSliding/AddStatic calls.",
		}, []string{"partition"}),
		removes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvlite_removes_total",
			Help: "Number of successful explicit Remove calls.",
		}, []string{"partition"}),
		cascadeDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvlite_cascade_deleted_total",
			Help: "Number of rows removed transitively via parent-key cascade.",
		}, []string{"partition"}),
		cleanupSwept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvlite_cleanup_swept_total",
			Help: "Number of rows removed by automatic soft cleanup.",
		}, []string{"partition"}),
		tamperDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvlite_tamper_detected_total",
			Help: "Number of anti-tamper hash mismatches detected on read.",
		}, []string{"partition"}),
		compressionRatio: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvlite_compression_ratio",
			Help:    "compressed_len / raw_len for payloads that crossed the compression threshold.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"partition"}),
	}

	reg.MustRegister(
		m.hits, m.misses, m.upserts, m.removes,
		m.cascadeDeleted, m.cleanupSwept, m.tamperDetected, m.compressionRatio,
	)

	return m
}

func (m *PrometheusMetrics) IncHit(partition string)  { m.hits.WithLabelValues(partition).Inc() }
func (m *PrometheusMetrics) IncMiss(partition string) { m.misses.WithLabelValues(partition).Inc() }
func (m *PrometheusMetrics) IncUpsert(partition string) {
	m.upserts.WithLabelValues(partition).Inc()
}
func (m *PrometheusMetrics) IncRemove(partition string) {
	m.removes.WithLabelValues(partition).Inc()
}
func (m *PrometheusMetrics) IncCascadeDeleted(partition string, n int) {
	m.cascadeDeleted.WithLabelValues(partition).Add(float64(n))
}
func (m *PrometheusMetrics) IncCleanupSwept(partition string, n int) {
	m.cleanupSwept.WithLabelValues(partition).Add(float64(n))
}
func (m *PrometheusMetrics) IncTamperDetected(partition string) {
	m.tamperDetected.WithLabelValues(partition).Inc()
}
func (m *PrometheusMetrics) ObserveCompressionRatio(partition string, ratio float64) {
	m.compressionRatio.WithLabelValues(partition).Observe(ratio)
}
