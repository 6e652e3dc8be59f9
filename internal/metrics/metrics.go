// Package metrics exposes Prometheus collectors for interpolation and
// geotagging activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the collectors registered for one process. A nil *Manager is
// valid and records nothing.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	queries         *prometheus.CounterVec
	rangeFailures   *prometheus.CounterVec
	batchLatency    prometheus.Histogram
	imagesTagged    prometheus.Counter
	imagesSkipped   *prometheus.CounterVec
	jobs            *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	trajectorySpan  prometheus.Gauge
	trajectoryCount prometheus.Gauge
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace overrides the metric namespace.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithRegistry registers collectors on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// New creates a Manager with its own registry.
func New(opts ...Option) *Manager {
	m := &Manager{namespace: "traj2gps"}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	auto := promauto.With(m.registry)
	m.queries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "interpolations_total",
		Help:      "Timestamps interpolated, by kernel.",
	}, []string{"kernel"})
	m.rangeFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "range_failures_total",
		Help:      "Queries rejected for falling outside the trajectory.",
	}, []string{"side"})
	m.batchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "batch_duration_seconds",
		Help:      "Wall time of interpolation batches.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	m.imagesTagged = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "images_tagged_total",
		Help:      "Images whose GPS tags were written.",
	})
	m.imagesSkipped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "images_skipped_total",
		Help:      "Images skipped while watching, by reason.",
	}, []string{"reason"})
	m.jobs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "jobs_total",
		Help:      "Pipeline jobs processed, by type and outcome.",
	}, []string{"type", "status"})
	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status class.",
	}, []string{"route", "code"})
	m.trajectorySpan = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "trajectory_span_seconds",
		Help:      "Time span of the most recently loaded trajectory.",
	})
	m.trajectoryCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "trajectory_samples",
		Help:      "Sample count of the most recently loaded trajectory.",
	})
	return m
}

// Registry returns the registry the collectors live on.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) ObserveBatch(kernel string, n int, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(kernel).Add(float64(n))
	m.batchLatency.Observe(d.Seconds())
}

func (m *Manager) RangeFailure(side string) {
	if m == nil {
		return
	}
	m.rangeFailures.WithLabelValues(side).Inc()
}

func (m *Manager) ImageTagged() {
	if m == nil {
		return
	}
	m.imagesTagged.Inc()
}

func (m *Manager) ImageSkipped(reason string) {
	if m == nil {
		return
	}
	m.imagesSkipped.WithLabelValues(reason).Inc()
}

func (m *Manager) JobDone(jobType string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobs.WithLabelValues(jobType, status).Inc()
}

func (m *Manager) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	class := "5xx"
	switch {
	case code < 300:
		class = "2xx"
	case code < 400:
		class = "3xx"
	case code < 500:
		class = "4xx"
	}
	m.httpRequests.WithLabelValues(route, class).Inc()
}

// TrajectoryLoaded records the shape of a freshly loaded trajectory.
func (m *Manager) TrajectoryLoaded(samples int, span float64) {
	if m == nil {
		return
	}
	m.trajectoryCount.Set(float64(samples))
	m.trajectorySpan.Set(span)
}
