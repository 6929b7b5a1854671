package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

const (
	bikewaysJSON = `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"LineString","coordinates":[[-79.40,43.65],[-79.39,43.66]]},
		 "properties":{"INFRA_HIGHORDER":"Bike Lane","Shape__Length":1200,"STREET_NAME":"College St"}}]}`
	pointsJSON = `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[-79.38,43.65]},"properties":{"ADDRESS_FULL":"1 Yonge St"}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[-79.39,43.66]},"properties":{"ADDRESS_FULL":"2 Bay St"}}]}`
)

// origin serves the three datasets; shops is broken.
func origin(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/bikeways.geojson", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(bikewaysJSON))
	})
	mux.HandleFunc("/parking.geojson", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(pointsJSON))
	})
	mux.HandleFunc("/shops.geojson", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	data := origin(t)
	cfg := DefaultConfig()
	cfg.MapboxToken = "pk.test"
	cfg.Datasets = service.DatasetURLs{
		Bikeways: data.URL + "/bikeways.geojson",
		Parking:  data.URL + "/parking.geojson",
		Shops:    data.URL + "/shops.geojson",
	}
	cfg.Fetch.Attempts = 1
	cfg.Fetch.Timeout = 5 * time.Second

	s, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func do(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = do(s, http.MethodGet, "/api/v1/info")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"search":true`)
}

func TestServer_SessionWithMissingData(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, http.MethodPost, "/api/v1/sessions")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(s, http.MethodGet, "/api/v1/sessions/"+created.ID+"/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	var sources []service.SourceInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sources))

	byName := map[string]service.SourceInfo{}
	for _, src := range sources {
		byName[src.Name] = src
	}
	assert.Equal(t, service.SourceReady, byName[style.SourceBikeways].Status)
	assert.Equal(t, 1, byName[style.SourceBikeways].Features)
	assert.Equal(t, 2, byName[style.SourceParking].Features)
	assert.Equal(t, service.SourceFailed, byName[style.SourceShops].Status)

	// Bound interactions work on the loaded data.
	rec = do(s, http.MethodGet, "/api/v1/sessions/"+created.ID+"/layers/"+style.LayerBike)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Page(t *testing.T) {
	s := newTestServer(t)

	rec := do(s, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, strings.Join(rec.Header().Values("Link"), ", "), `rel="service-desc"`)
	assert.Equal(t, 1, s.Sessions().Len())

	body := rec.Body.String()
	for _, layer := range []string{style.LayerBike, style.LayerParkingUnclustered, style.LayerShopsUnclustered} {
		assert.Contains(t, body, layer)
	}
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t)
	do(s, http.MethodGet, "/health")
	do(s, http.MethodPost, "/api/v1/sessions")

	rec := do(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "bikemap_http_requests_total")
	assert.Contains(t, body, "bikemap_sessions_active 1")
	assert.Contains(t, body, `bikemap_source_fetch_attempts_total{outcome="error",source="bike_shops"}`)
}

func TestServer_OpenAPI(t *testing.T) {
	s := newTestServer(t)
	spec := s.OpenAPI()
	require.NotNil(t, spec.Paths)
	assert.Contains(t, spec.Paths, "/api/v1/sessions/{id}/layers/{layer}/filter")
	assert.Contains(t, spec.Paths, "/api/v1/viewer/{id}/events")
}

func TestServer_RunStopsWithContext(t *testing.T) {
	s := newTestServer(t)
	s.config.Port = "0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
