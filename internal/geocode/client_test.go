package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const torontoResponse = `{
  "type": "FeatureCollection",
  "query": ["high", "park"],
  "features": [
    {
      "id": "poi.1",
      "type": "Feature",
      "place_type": ["poi"],
      "relevance": 1,
      "text": "High Park",
      "place_name": "High Park, 1873 Bloor St W, Toronto, Ontario M6R 2Z3, Canada",
      "center": [-79.4637, 43.6465],
      "geometry": {"type": "Point", "coordinates": [-79.4637, 43.6465]}
    },
    {
      "id": "neighborhood.2",
      "type": "Feature",
      "place_type": ["neighborhood"],
      "relevance": 0.9,
      "text": "High Park North",
      "place_name": "High Park North, Toronto, Ontario, Canada",
      "center": [-79.47, 43.66],
      "bbox": [-79.48, 43.65, -79.46, 43.67]
    }
  ]
}`

func TestClient_Forward(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	t.Run("successful request", func(t *testing.T) {
		var gotPath string
		var gotQuery map[string][]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.EscapedPath()
			gotQuery = r.URL.Query()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(torontoResponse))
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, AccessToken: "test_token", Country: "ca"}, logger)
		places, err := client.Forward(context.Background(), "  High Park ")
		require.NoError(t, err)

		assert.Equal(t, "/geocoding/v5/mapbox.places/High%20Park.json", gotPath)
		assert.Equal(t, []string{"ca"}, gotQuery["country"])
		assert.Equal(t, []string{"test_token"}, gotQuery["access_token"])
		assert.Equal(t, []string{"5"}, gotQuery["limit"])

		require.Len(t, places, 2)
		assert.Equal(t, "High Park", places[0].Text)
		assert.Equal(t, orb.Point{-79.4637, 43.6465}, places[0].Center)
		assert.Nil(t, places[0].BBox)
		require.NotNil(t, places[1].BBox)
		assert.Equal(t, orb.Point{-79.48, 43.65}, places[1].BBox.Min)
		assert.Equal(t, []string{"neighborhood"}, places[1].Types)
	})

	t.Run("no results", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, logger)
		_, err := client.Forward(context.Background(), "zzzz")
		assert.ErrorIs(t, err, ErrNoResults)
	})

	t.Run("api error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Not Authorized - Invalid Token"}`))
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, logger)
		_, err := client.Forward(context.Background(), "Toronto")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 401")
	})

	t.Run("empty query", func(t *testing.T) {
		client := NewClient(Config{}, logger)
		_, err := client.Forward(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})
}
