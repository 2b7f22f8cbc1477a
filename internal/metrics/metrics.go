// Package metrics exposes the pipeline's Prometheus instrumentation:
// job outcomes, rejections by reason, lock contention, and execution
// duration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gyre"

// Rejection reason label values.
const (
	ReasonMemoryPressure = "memory_pressure"
	ReasonValidation     = "validation"
)

// Metrics holds the pipeline's collectors, registered on a private
// registry so tests can create instances freely.
type Metrics struct {
	registry *prometheus.Registry

	// JobsProcessed counts jobs reaching a terminal state, by outcome
	// (committed, failed).
	JobsProcessed *prometheus.CounterVec

	// JobsRejected counts submissions rejected before queueing, by reason.
	JobsRejected *prometheus.CounterVec

	// JobsRequeued counts requeues after transient failures.
	JobsRequeued prometheus.Counter

	// LockUnavailable counts failed writer-lock acquisitions.
	LockUnavailable prometheus.Counter

	// NodesAppended counts memory nodes appended by committed jobs.
	NodesAppended prometheus.Counter

	// JobDuration records job execution time in seconds, lock wait
	// included.
	JobDuration prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Jobs that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		JobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Job submissions rejected before queueing, by reason.",
		}, []string{"reason"}),
		JobsRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_requeued_total",
			Help:      "Jobs requeued after a transient failure.",
		}),
		LockUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_unavailable_total",
			Help:      "Writer lock acquisition failures.",
		}),
		NodesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_appended_total",
			Help:      "Memory nodes appended by committed jobs.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job execution duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}

	reg.MustRegister(
		m.JobsProcessed,
		m.JobsRejected,
		m.JobsRequeued,
		m.LockUnavailable,
		m.NodesAppended,
		m.JobDuration,
	)
	return m
}

// Handler returns the pull-based metrics endpoint. When token is
// non-empty, requests must carry "Authorization: Bearer <token>".
func (m *Metrics) Handler(token string) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	if token == "" {
		return inner
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		inner.ServeHTTP(w, r)
	})
}

// Gather exposes the private registry for tests.
func (m *Metrics) Gather() prometheus.Gatherer {
	return m.registry
}
