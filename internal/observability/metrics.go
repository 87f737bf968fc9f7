package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/airquality-dashboard/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// WAQI call rate by operation and outcome. Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// WAQI latency. Watch for: p95 > 2s (upstream degradation).
	UpstreamDuration *prometheus.HistogramVec

	// Upstream failures by category (network, upstream, parsing, ...).
	UpstreamErrorsTotal *prometheus.CounterVec

	// Fetch cache hits and misses by operation (feed, geo, map, search, ...).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Backend failures. Get errors degrade to misses, set errors are swallowed.
	CacheErrorsTotal *prometheus.CounterVec

	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Callers that shared another caller's in-flight fetch.
	RequestCoalescingHitsTotal   *prometheus.CounterVec
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Concurrent misses on the same key.
	CacheStampedeDetectedTotal *prometheus.CounterVec
	CacheStampedeConcurrency   *prometheus.HistogramVec

	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// 0 closed, 1 open, 2 half-open.
	CircuitBreakerState            *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Ranking lists built from a map feed vs served from the memo.
	RankingBuildsTotal   prometheus.Counter
	RankingMemoHitsTotal prometheus.Counter

	// Keyword searches whose results were dropped because a newer search replaced them.
	SearchSupersededTotal prometheus.Counter

	// Ingestion runs by result and per-station outcomes.
	IngestRunsTotal          *prometheus.CounterVec
	IngestStationsTotal      *prometheus.CounterVec
	IngestRunDurationSeconds prometheus.Histogram

	// City lookups. Per-city counts only for the tracked allow-list, others are "other".
	CityQueriesTotal           prometheus.Counter
	CityQueriesByLocationTotal *prometheus.CounterVec

	// Fallbacks to the default location after a failed city lookup.
	DefaultLocationFallbacksTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// In-flight requests observed when shutdown began.
	ShutdownInFlightRequests prometheus.Gauge

	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "httpRequestsTotal", Help: "Total number of HTTP requests"},
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
		prometheus.GaugeOpts{Name: "httpRequestsInFlight", Help: "Number of HTTP requests currently being served"},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "waqiApiCallsTotal", Help: "Total number of WAQI API calls"},
		[]string{"operation", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waqiApiDurationSeconds",
			Help:    "WAQI API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "waqiApiErrorsTotal", Help: "WAQI API failures by category"},
		[]string{"operation", "category"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheHitsTotal", Help: "Fetch cache hits (fresh entry served)"},
		[]string{"operation"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheMissesTotal", Help: "Fetch cache misses (absent or stale entry)"},
		[]string{"operation"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheErrorsTotal", Help: "Cache backend errors"},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache backend operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "requestCoalescingHitsTotal", Help: "Callers served by another caller's in-flight fetch"},
		[]string{"operation"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting on a coalesced fetch",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheStampedeDetectedTotal", Help: "Misses that overlapped another miss on the same key"},
		[]string{"operation"},
	)
	CacheStampedeConcurrency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent misses on one key when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 25, 50},
		},
		[]string{"operation"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheWarmingTotal", Help: "Cache warming runs"},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cacheWarmingErrorsTotal", Help: "Cache warming runs with at least one failure"},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "cacheWarmingDurationSeconds", Help: "Cache warming run duration", Buckets: prometheus.DefBuckets},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "circuitBreakerState", Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)"},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "circuitBreakerTransitionsTotal", Help: "Circuit breaker state transitions"},
		[]string{"component", "from", "to"},
	)
	RankingBuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rankingBuildsTotal", Help: "Ranking lists built from a map feed"},
	)
	RankingMemoHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rankingMemoHitsTotal", Help: "Ranking requests served from a previously built list"},
	)
	SearchSupersededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "searchSupersededTotal", Help: "Keyword searches discarded because a newer search replaced them"},
	)
	IngestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingestRunsTotal", Help: "Bulk ingestion runs"},
		[]string{"result"},
	)
	IngestStationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingestStationsTotal", Help: "Stations processed by ingestion"},
		[]string{"outcome"},
	)
	IngestRunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestRunDurationSeconds",
			Help:    "Bulk ingestion run duration",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600},
		},
	)
	CityQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cityQueriesTotal", Help: "Total number of city lookups"},
	)
	CityQueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cityQueriesByLocationTotal", Help: "City lookups by city (allow-list; others use city=other)"},
		[]string{"city"},
	)
	DefaultLocationFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "defaultLocationFallbacksTotal", Help: "City lookups answered with the default location"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rateLimitDeniedTotal", Help: "Total number of requests denied by rate limiter (429)"},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "shutdownInFlightRequests", Help: "In-flight requests when shutdown began"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamErrorsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RankingBuildsTotal, RankingMemoHitsTotal,
		SearchSupersededTotal,
		IngestRunsTotal, IngestStationsTotal, IngestRunDurationSeconds,
		CityQueriesTotal, CityQueriesByLocationTotal, DefaultLocationFallbacksTotal,
		RateLimitDeniedTotal, ShutdownInFlightRequests,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with the health window.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue float64) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(toValue)
}

// SetTrackedCities sets the allow-list for per-city metrics.
func SetTrackedCities(cities []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(cities))
	for _, c := range cities {
		trackedCities[normalizeCityForMetrics(c)] = struct{}{}
	}
}

// RecordCityQuery records a lookup for city.
func RecordCityQuery(city string) {
	CityQueriesTotal.Inc()
	CityQueriesByLocationTotal.WithLabelValues(MetricCityLabel(city)).Inc()
}

// MetricCityLabel returns the city when tracked, otherwise "other".
func MetricCityLabel(city string) string {
	c := normalizeCityForMetrics(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[c]
	trackedCitiesMu.RUnlock()
	if ok {
		return c
	}
	return "other"
}

// OperationLabel reduces a fetch key such as "feed|delhi" to its operation ("feed").
func OperationLabel(key string) string {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i]
	}
	return key
}

func normalizeCityForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
