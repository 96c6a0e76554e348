package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name
const Namespace = "pulse"

// Metrics holds the daemon's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// PollAttempts counts token poll outcomes (pending, slow_down, success, failure)
	PollAttempts *prometheus.CounterVec
	// Refreshes counts contribution refreshes by result
	Refreshes *prometheus.CounterVec
	// AuthState is 1 for the current authentication state and 0 for the others
	AuthState *prometheus.GaugeVec
	// SnapshotLastUpdated is the unix time of the last saved snapshot
	SnapshotLastUpdated prometheus.Gauge
	// HTTPRequestsTotal counts local control API requests
	HTTPRequestsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all collectors on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		PollAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "poll_attempts_total",
				Help:      "Device flow token poll attempts by outcome",
			},
			[]string{"outcome"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "refresh_total",
				Help:      "Contribution refreshes by result",
			},
			[]string{"result"},
		),
		AuthState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "auth_state",
				Help:      "Current authentication state (1=active)",
			},
			[]string{"state"},
		),
		SnapshotLastUpdated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "snapshot_last_updated_seconds",
				Help:      "Unix time of the last saved contribution snapshot",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Local control API requests",
			},
			[]string{"route", "method", "status"},
		),
	}

	registry.MustRegister(
		m.PollAttempts,
		m.Refreshes,
		m.AuthState,
		m.SnapshotLastUpdated,
		m.HTTPRequestsTotal,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordPollAttempt(outcome string) {
	if m == nil {
		return
	}
	m.PollAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

// SetAuthState marks current as active and every other state in all as inactive
func (m *Metrics) SetAuthState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		value := 0.0
		if s == current {
			value = 1.0
		}
		m.AuthState.WithLabelValues(s).Set(value)
	}
}

func (m *Metrics) SetSnapshotUpdated(t time.Time) {
	if m == nil {
		return
	}
	m.SnapshotLastUpdated.Set(float64(t.Unix()))
}

func (m *Metrics) RecordHTTPRequest(route, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
}
