package metrics

import (
	"net/http"
	"time"

	"didlab/domain/did"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run statuses
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusError   = "error"
)

// Metrics holds the analysis counters. Each instance owns its registry so
// tests and multiple servers do not collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	branchFailures *prometheus.CounterVec
	runDuration    prometheus.Histogram
	observations   prometheus.Histogram
	archiveErrors  prometheus.Counter
}

// NewMetrics creates and registers the collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "didlab",
			Name:      "runs_total",
			Help:      "Analysis runs by outcome status.",
		}, []string{"status"}),
		branchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "didlab",
			Name:      "branch_failures_total",
			Help:      "Branch failures by branch and error code.",
		}, []string{"branch", "code"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "didlab",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one analysis run, including report writing.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		observations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "didlab",
			Name:      "run_observations",
			Help:      "Prepared observations per run.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 10),
		}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "didlab",
			Name:      "archive_errors_total",
			Help:      "Runs that could not be archived.",
		}),
	}
	m.registry.MustRegister(m.runs, m.branchFailures, m.runDuration, m.observations, m.archiveErrors)
	return m
}

// RecordRun records a finished run. A nil report counts as an error.
func (m *Metrics) RecordRun(report *did.Report, duration time.Duration) {
	m.runDuration.Observe(duration.Seconds())
	if report == nil {
		m.runs.WithLabelValues(StatusError).Inc()
		return
	}

	m.observations.Observe(float64(report.NObservations))
	for _, f := range report.Failures {
		m.branchFailures.WithLabelValues(string(f.Branch), f.Code).Inc()
	}
	if report.Succeeded() {
		m.runs.WithLabelValues(StatusOK).Inc()
	} else {
		m.runs.WithLabelValues(StatusPartial).Inc()
	}
}

// IncrementArchiveError counts a failed archive write
func (m *Metrics) IncrementArchiveError() {
	m.archiveErrors.Inc()
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
