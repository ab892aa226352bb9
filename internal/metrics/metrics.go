// Package metrics provides Prometheus instrumentation for the audit chain
// service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects counters and histograms for appends, verifications and
// alerting. Labels deliberately exclude tenant IDs to keep cardinality
// bounded.
type Metrics struct {
	appendsTotal       prometheus.Counter
	appendErrors       *prometheus.CounterVec
	appendDuration     prometheus.Histogram
	verificationsTotal *prometheus.CounterVec
	verifyDuration     prometheus.Histogram
	breaksTotal        *prometheus.CounterVec
	alertsTotal        *prometheus.CounterVec
	sweepsTotal        prometheus.Counter
	purgedRecords      prometheus.Counter

	registry *prometheus.Registry
}

// New creates a Metrics instance with a private registry
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		appendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_appended_total",
			Help:      "Total number of audit records appended",
		}),
		appendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_errors_total",
			Help:      "Total number of failed appends by error kind",
		}, []string{"kind"}),
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "append_duration_seconds",
			Help:      "Latency of chain appends",
			Buckets:   prometheus.DefBuckets,
		}),
		verificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Total number of chain verifications by resulting status",
		}, []string{"status"}),
		verifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verify_duration_seconds",
			Help:      "Latency of chain verifications",
			Buckets:   prometheus.DefBuckets,
		}),
		breaksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_breaks_detected_total",
			Help:      "Total number of chain breaks detected by kind",
		}, []string{"kind"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_published_total",
			Help:      "Total number of integrity alerts pushed by sink outcome",
		}, []string{"outcome"}),
		sweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_sweeps_total",
			Help:      "Total number of retention sweeps executed",
		}),
		purgedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_purged_total",
			Help:      "Total number of records removed by retention sweeps",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.appendsTotal,
		m.appendErrors,
		m.appendDuration,
		m.verificationsTotal,
		m.verifyDuration,
		m.breaksTotal,
		m.alertsTotal,
		m.sweepsTotal,
		m.purgedRecords,
	)

	return m
}

// RecordAppend records a successful append
func (m *Metrics) RecordAppend(d time.Duration) {
	m.appendsTotal.Inc()
	m.appendDuration.Observe(d.Seconds())
}

// RecordAppendError records a failed append
func (m *Metrics) RecordAppendError(kind string) {
	m.appendErrors.WithLabelValues(kind).Inc()
}

// RecordVerification records a completed verification
func (m *Metrics) RecordVerification(status string, d time.Duration) {
	m.verificationsTotal.WithLabelValues(status).Inc()
	m.verifyDuration.Observe(d.Seconds())
}

// RecordBreak records one detected chain break
func (m *Metrics) RecordBreak(kind string) {
	m.breaksTotal.WithLabelValues(kind).Inc()
}

// RecordAlert records an alert publish attempt
func (m *Metrics) RecordAlert(outcome string) {
	m.alertsTotal.WithLabelValues(outcome).Inc()
}

// RecordSweep records a retention sweep
func (m *Metrics) RecordSweep(purged int64) {
	m.sweepsTotal.Inc()
	m.purgedRecords.Add(float64(purged))
}

// Handler returns an HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
