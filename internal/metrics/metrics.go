package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors exported on /metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	versionsAppended    prometheus.Counter
	reverts             prometheus.Counter
	prTransitions       *prometheus.CounterVec
	conflicts           prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		versionsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "draftline_versions_appended_total",
			Help: "Versions appended across all content",
		}),
		reverts: factory.NewCounter(prometheus.CounterOpts{
			Name: "draftline_reverts_total",
			Help: "Hard resets of a content version log",
		}),
		prTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "draftline_pull_request_transitions_total",
				Help: "Applied pull request transitions by action",
			},
			[]string{"action"},
		),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "draftline_conflicts_total",
			Help: "Operations rejected because of a concurrent write or dangling reference",
		}),
	}
}

func (m *Metrics) ObserveRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	if path == "" {
		path = "unknown"
	}
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

func (m *Metrics) VersionAppended() {
	if m == nil {
		return
	}
	m.versionsAppended.Inc()
}

func (m *Metrics) Reverted() {
	if m == nil {
		return
	}
	m.reverts.Inc()
}

func (m *Metrics) Transitioned(action string) {
	if m == nil {
		return
	}
	m.prTransitions.WithLabelValues(action).Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}
