package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the segmenter pipeline. Every
// method is safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	segmentsTotal   *prometheus.CounterVec
	segmentDuration *prometheus.HistogramVec
	retiredTotal    *prometheus.CounterVec
	cleanupFailures *prometheus.CounterVec
	manifestWrites  *prometheus.CounterVec
	packetsTotal    *prometheus.CounterVec
	activeOutputs   prometheus.Gauge
	ingestSessions  prometheus.Counter
}

// New creates and registers the metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	outputLabel := []string{"output"}

	m := &Metrics{
		registry: registry,
		segmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livehls_segments_total",
			Help: "Segments published to the playlist",
		}, outputLabel),
		segmentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livehls_segment_duration_seconds",
			Help:    "Duration of published segments",
			Buckets: prometheus.LinearBuckets(1, 1, 12),
		}, outputLabel),
		retiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livehls_segments_retired_total",
			Help: "Segments removed from the live window",
		}, outputLabel),
		cleanupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livehls_cleanup_failures_total",
			Help: "Retired segment files that could not be deleted",
		}, outputLabel),
		manifestWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livehls_manifest_writes_total",
			Help: "Playlist files written",
		}, outputLabel),
		packetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livehls_packets_total",
			Help: "Packets written into segments",
		}, outputLabel),
		activeOutputs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livehls_active_outputs",
			Help: "Segmenters currently running",
		}),
		ingestSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livehls_ingest_sessions_total",
			Help: "Ingest sessions accepted",
		}),
	}

	registry.MustRegister(
		m.segmentsTotal,
		m.segmentDuration,
		m.retiredTotal,
		m.cleanupFailures,
		m.manifestWrites,
		m.packetsTotal,
		m.activeOutputs,
		m.ingestSessions,
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SegmentPublished(output string, seconds float64) {
	if m == nil {
		return
	}
	m.segmentsTotal.WithLabelValues(output).Inc()
	m.segmentDuration.WithLabelValues(output).Observe(seconds)
}

func (m *Metrics) SegmentsRetired(output string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.retiredTotal.WithLabelValues(output).Add(float64(n))
}

func (m *Metrics) CleanupFailed(output string) {
	if m == nil {
		return
	}
	m.cleanupFailures.WithLabelValues(output).Inc()
}

func (m *Metrics) ManifestWritten(output string) {
	if m == nil {
		return
	}
	m.manifestWrites.WithLabelValues(output).Inc()
}

func (m *Metrics) PacketWritten(output string) {
	if m == nil {
		return
	}
	m.packetsTotal.WithLabelValues(output).Inc()
}

func (m *Metrics) OutputStarted() {
	if m == nil {
		return
	}
	m.activeOutputs.Inc()
}

func (m *Metrics) OutputStopped() {
	if m == nil {
		return
	}
	m.activeOutputs.Dec()
}

func (m *Metrics) IngestStarted() {
	if m == nil {
		return
	}
	m.ingestSessions.Inc()
}

// Handler returns an http.Handler that serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
