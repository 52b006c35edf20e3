// Package metrics holds the Prometheus collectors tbdash exports on
// /api/v1/metrics.
//
// Collectors live on a private registry rather than the global default so
// tests can build as many independent sets as they like. All Observe/Inc
// helpers are safe on a nil *Metrics, which lets components treat metrics
// as optional.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tbdash"

// Outcome labels shared by the counters below.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics is the set of tbdash collectors.
type Metrics struct {
	registry *prometheus.Registry

	BackendRequests     *prometheus.CounterVec
	BackendDuration     *prometheus.HistogramVec
	TokenRefreshes      *prometheus.CounterVec
	DashboardRefreshes  *prometheus.CounterVec
	DeviceFetchFailures *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	WSClients           prometheus.Gauge
	WSDropped           prometheus.Counter
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BackendRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_requests_total",
				Help:      "Backend API calls by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		BackendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_request_duration_seconds",
				Help:      "Backend API call latency by operation, retries included.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Token refresh round trips by outcome.",
			},
			[]string{"outcome"},
		),
		DashboardRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dashboard_refreshes_total",
				Help:      "Dashboard aggregation cycles by outcome.",
			},
			[]string{"outcome"},
		),
		DeviceFetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_telemetry_failures_total",
				Help:      "Per-device telemetry fetches absorbed into placeholder view models.",
			},
			[]string{"category"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Local API requests by route pattern, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected dashboard WebSocket clients.",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_dropped_messages_total",
			Help:      "Events not delivered because a client's send buffer was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BackendRequests,
		m.BackendDuration,
		m.TokenRefreshes,
		m.DashboardRefreshes,
		m.DeviceFetchFailures,
		m.HTTPRequests,
		m.WSClients,
		m.WSDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveBackend records one backend call.
func (m *Metrics) ObserveBackend(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(op, outcome(err)).Inc()
	m.BackendDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveRefresh records one token refresh round trip.
func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(outcome(err)).Inc()
}

// ObserveDashboard records one aggregation cycle.
func (m *Metrics) ObserveDashboard(err error) {
	if m == nil {
		return
	}
	m.DashboardRefreshes.WithLabelValues(outcome(err)).Inc()
}

// DeviceFailed counts a per-device telemetry failure that was absorbed.
func (m *Metrics) DeviceFailed(category string) {
	if m == nil {
		return
	}
	m.DeviceFetchFailures.WithLabelValues(category).Inc()
}

// ObserveHTTP records one local API request.
func (m *Metrics) ObserveHTTP(route, method string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// SetWSClients records the current WebSocket client count.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

// WSMessageDropped counts one event skipped for a slow client.
func (m *Metrics) WSMessageDropped() {
	if m == nil {
		return
	}
	m.WSDropped.Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
