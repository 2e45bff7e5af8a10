package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Redactions      *prometheus.CounterVec
	UpstreamCalls   *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	TokenCache      *prometheus.CounterVec
	ImportedRecords *prometheus.CounterVec

	registry *prometheus.Registry
}

// New builds the instruments on a private registry so several instances can
// coexist in tests.
func New(namespace string) *Metrics {
	m := &Metrics{
		Redactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redactions_total",
			Help:      "PII values replaced by category.",
		}, []string{"category"}),
		UpstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Calls to the token service by operation and outcome.",
		}, []string{"operation", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"route"}),
		TokenCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_cache_lookups_total",
			Help:      "Anonymous token cache lookups by result.",
		}, []string{"result"}),
		ImportedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_records_total",
			Help:      "Batch import records by outcome.",
		}, []string{"outcome"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.Redactions,
		m.UpstreamCalls,
		m.HTTPRequests,
		m.HTTPDuration,
		m.TokenCache,
		m.ImportedRecords,
		collectors.NewGoCollector(),
	)

	return m
}

// ObserveRedaction adds count replaced values of a category
func (m *Metrics) ObserveRedaction(category string, count int) {
	m.Redactions.WithLabelValues(category).Add(float64(count))
}

// ObserveUpstream counts one call to the token service
func (m *Metrics) ObserveUpstream(operation string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.UpstreamCalls.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTP counts a request and records its latency with microsecond precision
func (m *Metrics) ObserveHTTP(route string, code string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, code).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(float64(d.Microseconds()) / 1000)
}

// ObserveCache counts a token cache lookup as hit or miss
func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TokenCache.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
