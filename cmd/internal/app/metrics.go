package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hub/cmd/internal/gate"
)

// Metrics holds the process collectors on a private registry.
//
// It doubles as the gate.Observer for every gate the server mounts and as
// the audit hook of the auth endpoints.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	gateMounts      prometheus.Counter
	gateActive      prometheus.Gauge
	gateTransitions *prometheus.CounterVec

	authEvents *prometheus.CounterVec
}

var _ gate.Observer = (*Metrics)(nil)

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hub",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hub",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gateMounts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hub",
			Subsystem: "gate",
			Name:      "mounts_total",
			Help:      "Session gates mounted.",
		}),
		gateActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hub",
			Subsystem: "gate",
			Name:      "active",
			Help:      "Session gates currently mounted.",
		}),
		gateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hub",
			Subsystem: "gate",
			Name:      "transitions_total",
			Help:      "Session gate state transitions by target state.",
		}, []string{"to"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hub",
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Auth audit events by action.",
		}, []string{"action"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.gateMounts,
		m.gateActive,
		m.gateTransitions,
		m.authEvents,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WatchStreams exports the number of open session streams.
func (m *Metrics) WatchStreams(active func() int64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "hub",
		Subsystem: "stream",
		Name:      "connections",
		Help:      "Open session stream connections.",
	}, func() float64 { return float64(active()) }))
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) AuthEvent(action string) {
	m.authEvents.WithLabelValues(action).Inc()
}

func (m *Metrics) Mounted() {
	m.gateMounts.Inc()
	m.gateActive.Inc()
}

func (m *Metrics) Transition(_, to gate.State) {
	m.gateTransitions.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) Unmounted(gate.State) {
	m.gateActive.Dec()
}
