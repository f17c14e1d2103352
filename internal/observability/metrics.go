package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Sensor fetch rate by status. Watch for: error vs success ratio (sensor going dark).
	SensorFetchesTotal *prometheus.CounterVec

	// Sensor fetch latency. Watch for: p95 > 2s (upstream degradation).
	SensorFetchDuration *prometheus.HistogramVec

	// Text-generation call rate by kind (batch, single, offline_pool) and status.
	// The generator is rate-limited upstream; watch total call volume.
	GeneratorCallsTotal *prometheus.CounterVec

	// Text-generation latency by kind.
	GeneratorCallDuration *prometheus.HistogramVec

	// Cache hits by cache type (snapshot, variations, offline_pool).
	CacheHitsTotal *prometheus.CounterVec

	// Variation regenerations by trigger reason (stale, rating_delta, warmup, initial).
	// Watch for: high rating_delta rate = scores flapping, wasted generator budget.
	RegenerationsTotal *prometheus.CounterVec

	// 1 while serving degraded offline data, 0 when live. Alert on sustained 1.
	OfflineGauge prometheus.Gauge

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state for the generator (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions by from/to state.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	SensorFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorFetchesTotal",
			Help: "Total number of wind sensor fetches",
		},
		[]string{"status"},
	)
	SensorFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensorFetchDurationSeconds",
			Help:    "Wind sensor fetch latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	GeneratorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generatorCallsTotal",
			Help: "Total number of text generation calls",
		},
		[]string{"kind", "status"},
	)
	GeneratorCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generatorCallDurationSeconds",
			Help:    "Text generation call latency in seconds (per request)",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits by cache type",
		},
		[]string{"cacheType"},
	)
	RegenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "variationRegenerationsTotal",
			Help: "Variation pool regenerations by trigger reason",
		},
		[]string{"reason"},
	)
	OfflineGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorOffline",
			Help: "1 while the sensor is offline and responses are degraded, else 0",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		SensorFetchesTotal, SensorFetchDuration,
		GeneratorCallsTotal, GeneratorCallDuration,
		CacheHitsTotal, RegenerationsTotal,
		OfflineGauge, RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// RecordCircuitBreakerTransition records a breaker transition for metrics.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// SetOffline updates the offline gauge from the orchestrator.
func SetOffline(offline bool) {
	if offline {
		OfflineGauge.Set(1)
	} else {
		OfflineGauge.Set(0)
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
