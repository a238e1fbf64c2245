// Package metrics exposes browserd's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neboloop/browserd/internal/browser"
)

const namespace = "browserd"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Command metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// Lifecycle metrics
	BrowserCrashes prometheus.Counter
}

// StatsFunc reports the current size of the session tree.
type StatsFunc func() browser.Stats

// New registers every metric on a fresh registry. stats feeds the session
// gauges and may be nil.
func New(stats StatsFunc) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of dispatched commands by outcome kind",
			},
			[]string{"command", "kind"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Command duration in seconds",
				Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"command"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket connections",
			},
		),

		BrowserCrashes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "browser_crashes_total",
				Help:      "Total number of engine processes that exited unexpectedly",
			},
		),
	}

	if stats != nil {
		gauge := func(name, help string, pick func(browser.Stats) int) {
			factory.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      name,
				Help:      help,
			}, func() float64 { return float64(pick(stats())) })
		}
		gauge("sessions_active", "Number of open sessions", func(s browser.Stats) int { return s.Sessions })
		gauge("browsers_active", "Number of running browsers", func(s browser.Stats) int { return s.Browsers })
		gauge("contexts_active", "Number of open browser contexts", func(s browser.Stats) int { return s.Contexts })
		gauge("pages_active", "Number of open pages", func(s browser.Stats) int { return s.Pages })
	}

	return m
}

// Observe implements dispatch.Observer.
func (m *Metrics) Observe(command string, kind browser.Kind, d time.Duration) {
	label := string(kind)
	if label == "" {
		label = "ok"
	}
	m.CommandsTotal.WithLabelValues(command, label).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// RecordRequest records one HTTP request.
func (m *Metrics) RecordRequest(method, route, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
