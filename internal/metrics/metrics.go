// Package metrics holds the Prometheus collectors of the API. Every method is safe on a
// nil *Metrics so services can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace      = "bookthreads"
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Metrics bundles the collectors registered on one registry.
type Metrics struct {
	registry            *prometheus.Registry
	writesTotal         *prometheus.CounterVec
	aggregationDuration *prometheus.HistogramVec
	remoteCallsTotal    *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
	cacheLookupsTotal   *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry that also carries the Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		writesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Store writes issued by user actions.",
		}, []string{"operation", "outcome"}),
		aggregationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Time spent recomputing a derived view from the store.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"aggregation"}),
		remoteCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_function_calls_total",
			Help:      "Calls to remote functions.",
		}, []string{"function", "outcome"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"breaker"}),
		cacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_state_lookups_total",
			Help:      "Entity state cache lookups.",
		}, []string{"entity_type", "result"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// ObserveWrite counts a write attempt and its outcome.
func (m *Metrics) ObserveWrite(operation string, err error) {
	if m == nil {
		return
	}
	m.writesTotal.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveAggregation records how long an aggregation took since started.
func (m *Metrics) ObserveAggregation(aggregation string, started time.Time) {
	if m == nil {
		return
	}
	m.aggregationDuration.WithLabelValues(aggregation).Observe(time.Since(started).Seconds())
}

// ObserveRemoteCall counts a remote function call.
func (m *Metrics) ObserveRemoteCall(function string, err error) {
	if m == nil {
		return
	}
	m.remoteCallsTotal.WithLabelValues(function, outcome(err)).Inc()
}

// SetBreakerState publishes the numeric state of a circuit breaker.
func (m *Metrics) SetBreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(breaker).Set(float64(state))
}

// ObserveCacheLookup counts an entity state lookup.
func (m *Metrics) ObserveCacheLookup(entityType string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(entityType, result).Inc()
}

// ObserveHTTPRequest records a served request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeSuccess
}
