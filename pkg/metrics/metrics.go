// Package metrics defines the Prometheus collectors used by the telemetry
// services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can run without a registry in tests.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	EventsIngestedTotal  *prometheus.CounterVec
	StoreOpsTotal        *prometheus.CounterVec
	StoreLatency         *prometheus.HistogramVec
	ChartQueriesTotal    *prometheus.CounterVec
	ChartLatency         *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	QueueMessagesTotal   *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in services and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_events_ingested_total",
				Help: "Telemetry events received by event type and outcome (accepted, rejected, failed).",
			},
			[]string{"event_type", "outcome"},
		),
		StoreOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_operations_total",
				Help: "Search backend operations by operation, collection, and status.",
			},
			[]string{"op", "collection", "status"},
		),
		StoreLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_operation_duration_seconds",
				Help:    "Search backend operation latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"op", "collection"},
		),
		ChartQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chart_queries_total",
				Help: "Chart queries by chart name and cache status (hit, miss, bypass, error).",
			},
			[]string{"chart", "cache_status"},
		),
		ChartLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chart_query_duration_seconds",
				Help:    "Chart query latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"chart"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of chart cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of chart cache misses.",
			},
		),
		QueueMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_messages_total",
				Help: "Queue messages by direction (published, consumed) and outcome.",
			},
			[]string{"direction", "outcome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.EventsIngestedTotal,
		m.StoreOpsTotal,
		m.StoreLatency,
		m.ChartQueriesTotal,
		m.ChartLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.QueueMessagesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// EventIngested counts one telemetry event.
func (m *Metrics) EventIngested(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsIngestedTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveStore records a search backend call.
func (m *Metrics) ObserveStore(op, collection, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.StoreOpsTotal.WithLabelValues(op, collection, status).Inc()
	m.StoreLatency.WithLabelValues(op, collection).Observe(d.Seconds())
}

// ObserveChart records a chart query and its cache outcome.
func (m *Metrics) ObserveChart(chart, cacheStatus string, d time.Duration) {
	if m == nil {
		return
	}
	m.ChartQueriesTotal.WithLabelValues(chart, cacheStatus).Inc()
	m.ChartLatency.WithLabelValues(chart).Observe(d.Seconds())
	switch cacheStatus {
	case "hit":
		m.CacheHitsTotal.Inc()
	case "miss":
		m.CacheMissesTotal.Inc()
	}
}

// QueueMessage counts a published or consumed queue message.
func (m *Metrics) QueueMessage(direction, outcome string) {
	if m == nil {
		return
	}
	m.QueueMessagesTotal.WithLabelValues(direction, outcome).Inc()
}

// SetBreakerState exports a circuit breaker state as its numeric value.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
