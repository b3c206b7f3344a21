// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	WafBlocksTotal   *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
	TransformErrors  *prometheus.CounterVec
	ReloadsTotal     prometheus.Counter
	RoutesLoaded     prometheus.Gauge
	ListenerEvents   *prometheus.CounterVec
	ListenersRunning prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests by protocol, route and status code.",
		}, []string{"protocol", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"protocol", "route"}),
		WafBlocksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_waf_blocks_total",
			Help: "Requests blocked by the WAF, by rule.",
		}, []string{"rule"}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		TransformErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_transform_errors_total",
			Help: "Transform failures by classification.",
		}, []string{"kind"}),
		ReloadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_router_reloads_total",
			Help: "Router table reloads.",
		}),
		RoutesLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_routes_loaded",
			Help: "Routes in the active router table.",
		}),
		ListenerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_listener_events_total",
			Help: "Listener lifecycle events by type.",
		}, []string{"type"}),
		ListenersRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_listeners_running",
			Help: "Currently running listeners.",
		}),
	}
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(protocol, route string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(protocol, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(protocol, route).Observe(d.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
