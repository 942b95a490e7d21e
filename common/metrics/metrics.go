// Package metrics provides Prometheus metrics for the sync engines.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all sync engine metrics. A nil *Metrics or a disabled one
// accepts every call and records nothing.
type Metrics struct {
	// Counters
	RecordsExtracted  *prometheus.CounterVec
	RecordsWritten    *prometheus.CounterVec
	RecordsSkipped    *prometheus.CounterVec
	ActivityFailures  *prometheus.CounterVec
	FanOutBranchFails *prometheus.CounterVec

	// Gauges
	CheckpointPosition *prometheus.GaugeVec

	// Histograms
	ActivityDuration *prometheus.HistogramVec

	registry *prometheus.Registry
	enabled  bool
}

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// New creates a metrics instance on its own registry
func New(cfg Config) *Metrics {
	m := &Metrics{
		enabled:  cfg.Enabled,
		registry: prometheus.NewRegistry(),
	}

	if !cfg.Enabled {
		return m
	}

	m.RecordsExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dataflow",
			Name:      "records_extracted_total",
			Help:      "Records read from legacy sources",
		},
		[]string{"source", "kind"},
	)

	m.RecordsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dataflow",
			Name:      "records_written_total",
			Help:      "Documents created or updated in the document store",
		},
		[]string{"kind", "op"},
	)

	m.RecordsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dataflow",
			Name:      "records_skipped_total",
			Help:      "Legacy records skipped by validation, deduplication or transformation failure",
		},
		[]string{"kind", "reason"},
	)

	m.ActivityFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dataflow",
			Name:      "activity_failures_total",
			Help:      "Activity invocations that returned an error",
		},
		[]string{"activity", "kind"},
	)

	m.FanOutBranchFails = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dataflow",
			Name:      "fanout_branch_failures_total",
			Help:      "Fan-out branches that failed without aborting their siblings",
		},
		[]string{"activity"},
	)

	m.CheckpointPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dataflow",
			Name:      "checkpoint_position",
			Help:      "Latest persisted watermark per source (transaction id or unix seconds)",
		},
		[]string{"source"},
	)

	m.ActivityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dataflow",
			Name:      "activity_duration_seconds",
			Help:      "Activity execution time",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"activity"},
	)

	m.registry.MustRegister(
		m.RecordsExtracted,
		m.RecordsWritten,
		m.RecordsSkipped,
		m.ActivityFailures,
		m.FanOutBranchFails,
		m.CheckpointPosition,
		m.ActivityDuration,
	)

	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IsEnabled returns true if metrics are enabled
func (m *Metrics) IsEnabled() bool {
	return m != nil && m.enabled
}

// RecordExtracted adds n records read from a legacy source
func (m *Metrics) RecordExtracted(source, kind string, n int) {
	if m.IsEnabled() && n > 0 {
		m.RecordsExtracted.WithLabelValues(source, kind).Add(float64(n))
	}
}

// RecordWritten counts one document store write
func (m *Metrics) RecordWritten(kind, op string) {
	if m.IsEnabled() {
		m.RecordsWritten.WithLabelValues(kind, op).Inc()
	}
}

// RecordSkipped counts one skipped legacy record
func (m *Metrics) RecordSkipped(kind, reason string) {
	if m.IsEnabled() {
		m.RecordsSkipped.WithLabelValues(kind, reason).Inc()
	}
}

// RecordActivity observes one activity invocation
func (m *Metrics) RecordActivity(activity string, started time.Time, errKind string) {
	if !m.IsEnabled() {
		return
	}
	m.ActivityDuration.WithLabelValues(activity).Observe(time.Since(started).Seconds())
	if errKind != "" {
		m.ActivityFailures.WithLabelValues(activity, errKind).Inc()
	}
}

// RecordBranchFailure counts a failed fan-out branch
func (m *Metrics) RecordBranchFailure(activity string) {
	if m.IsEnabled() {
		m.FanOutBranchFails.WithLabelValues(activity).Inc()
	}
}

// SetCheckpoint records the latest persisted watermark of a source
func (m *Metrics) SetCheckpoint(source string, position float64) {
	if m.IsEnabled() {
		m.CheckpointPosition.WithLabelValues(source).Set(position)
	}
}
