package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	m.IncFetchAttempt("bikeways", "ok")
	m.SetActiveSessions(3)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "metrics unavailable")
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/health", http.StatusOK, 12*time.Millisecond)
	m.IncFetchAttempt("bikeways", "error")
	m.IncFetchAttempt("bikeways", "ok")
	m.ObserveFetch("bikeways", 300*time.Millisecond)
	m.IncInteraction("move", "bike")
	m.SetActiveSessions(2)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `bikemap_http_requests_total{method="GET",path="/health",status="200"} 1`)
	assert.Contains(t, body, `bikemap_source_fetch_attempts_total{outcome="error",source="bikeways"} 1`)
	assert.Contains(t, body, `bikemap_source_fetch_duration_seconds_count{source="bikeways"} 1`)
	assert.Contains(t, body, `bikemap_interaction_events_total{kind="move",layer="bike"} 1`)
	assert.Contains(t, body, "bikemap_sessions_active 2")
}
