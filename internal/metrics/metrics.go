// Package metrics exposes Prometheus metrics for the map service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds a private registry. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	fetchAttempts       *prometheus.CounterVec
	fetchDuration       *prometheus.HistogramVec
	interactions        *prometheus.CounterVec
	activeSessions      prometheus.Gauge
}

// New creates a registry with all service metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikemap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests served",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bikemap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	fetchAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikemap",
		Name:      "source_fetch_attempts_total",
		Help:      "Remote GeoJSON fetch attempts by outcome",
	}, []string{"source", "outcome"})

	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bikemap",
		Name:      "source_fetch_duration_seconds",
		Help:      "Time to load a remote GeoJSON collection, retries included",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"source"})

	interactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bikemap",
		Name:      "interaction_events_total",
		Help:      "Pointer events dispatched to map layers",
	}, []string{"kind", "layer"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bikemap",
		Name:      "sessions_active",
		Help:      "Number of live map sessions",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		fetchAttempts,
		fetchDuration,
		interactions,
		activeSessions,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		fetchAttempts:       fetchAttempts,
		fetchDuration:       fetchDuration,
		interactions:        interactions,
		activeSessions:      activeSessions,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncFetchAttempt counts one fetch attempt; outcome is "ok", "error" or "cache".
func (m *Metrics) IncFetchAttempt(source, outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(source, outcome).Inc()
}

// ObserveFetch records the total time spent loading a source.
func (m *Metrics) ObserveFetch(source string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// IncInteraction counts a dispatched pointer event.
func (m *Metrics) IncInteraction(kind, layer string) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(kind, layer).Inc()
}

// SetActiveSessions sets the live session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
