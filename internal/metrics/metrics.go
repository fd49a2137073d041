// Package metrics owns the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector in a private registry, so constructing it
// twice (as tests do) never hits duplicate registration.
type Metrics struct {
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	syncWrites      *prometheus.CounterVec
	writeDuration   prometheus.Histogram
	snapshots       *prometheus.CounterVec
	authAttempts    *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	mirrors         *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "budget_http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route and status class.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
		syncWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_sync_writes_total",
				Help: "Ledger document writes by result.",
			},
			[]string{"result"},
		),
		writeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "budget_sync_write_duration_seconds",
				Help:    "Duration of ledger document writes.",
				Buckets: prometheus.DefBuckets,
			},
		),
		snapshots: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_sync_snapshots_total",
				Help: "Remote snapshots received, by how they were handled.",
			},
			[]string{"kind"},
		),
		authAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_auth_attempts_total",
				Help: "Sign-in and sign-up attempts by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "budget_active_sessions",
				Help: "Workspaces currently held by the API.",
			},
		),
		mirrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_mirror_runs_total",
				Help: "Summary mirror attempts by result.",
			},
			[]string{"result"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "budget_http_rate_limited_total",
				Help: "Requests rejected by the rate limiter, by route.",
			},
			[]string{"route"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveRequest(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route, status).Observe(d.Seconds())
}

// ObserveWrite records one document write. result is "ok" or "error".
func (m *Metrics) ObserveWrite(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncWrites.WithLabelValues(result).Inc()
	m.writeDuration.Observe(d.Seconds())
}

// ObserveSnapshot records a remote snapshot; kind is "applied", "echo",
// "missing" or "error".
func (m *Metrics) ObserveSnapshot(kind string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveAuth(mode, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) ObserveMirror(result string) {
	if m == nil {
		return
	}
	m.mirrors.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}
