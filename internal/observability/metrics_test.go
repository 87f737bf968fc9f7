package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics_Usable verifies that label dimensions match usage across the
// client, cache, ingest and http packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/cities/{city}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/api/v1/cities/{city}").Observe(0.01)
	UpstreamCallsTotal.WithLabelValues("feed", "success").Inc()
	UpstreamDuration.WithLabelValues("map", "server_error").Observe(0.2)
	UpstreamErrorsTotal.WithLabelValues("search", "network").Inc()
	CacheHitsTotal.WithLabelValues("feed").Inc()
	CacheMissesTotal.WithLabelValues("feed").Inc()
	CacheErrorsTotal.WithLabelValues("get", "timeout").Inc()
	CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(0.001)
	RequestCoalescingHitsTotal.WithLabelValues("map").Inc()
	CacheStampedeDetectedTotal.WithLabelValues("map").Inc()
	CacheStampedeConcurrency.WithLabelValues("map").Observe(3)
	IngestRunsTotal.WithLabelValues("success").Inc()
	IngestStationsTotal.WithLabelValues("failed").Inc()
	RecordCircuitBreakerTransition("waqi_api", "closed", "open", 1)
}

// TestMetricCityLabel verifies that only allow-listed cities get their own label.
func TestMetricCityLabel(t *testing.T) {
	SetTrackedCities([]string{"Delhi", " mumbai "})
	defer SetTrackedCities(nil)

	tests := []struct {
		in   string
		want string
	}{
		{"delhi", "delhi"},
		{"DELHI", "delhi"},
		{"Mumbai", "mumbai"},
		{"paris", "other"},
	}
	for _, tt := range tests {
		if got := MetricCityLabel(tt.in); got != tt.want {
			t.Errorf("MetricCityLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	before := testutil.ToFloat64(CityQueriesByLocationTotal.WithLabelValues("other"))
	RecordCityQuery("lyon")
	if got := testutil.ToFloat64(CityQueriesByLocationTotal.WithLabelValues("other")); got != before+1 {
		t.Errorf("other count = %v, want %v", got, before+1)
	}
}

// TestOperationLabel verifies that fetch keys collapse to their operation.
func TestOperationLabel(t *testing.T) {
	tests := map[string]string{
		"feed|delhi":              "feed",
		"map|-90|-180|90|180|all": "map",
		"here":                    "here",
		"":                        "",
	}
	for key, want := range tests {
		if got := OperationLabel(key); got != want {
			t.Errorf("OperationLabel(%q) = %q, want %q", key, got, want)
		}
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
