package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-bikemap/internal/geocode"
	"github.com/joeblew999/plat-bikemap/internal/humastar"
	"github.com/joeblew999/plat-bikemap/internal/interact"
	"github.com/joeblew999/plat-bikemap/internal/panel"
	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

func lineFeature(infra string, length float64) *geojson.Feature {
	f := geojson.NewFeature(orb.LineString{{-79.40, 43.65}, {-79.39, 43.66}})
	f.Properties[style.PropInfraType] = infra
	f.Properties[style.PropLength] = length
	f.Properties[style.PropStreetName] = "Bloor St W"
	return f
}

func pointFeature(lon, lat float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{lon, lat})
	f.Properties[style.PropAddress] = "100 Queen St W"
	return f
}

// fixtureBuilder loads small inline datasets in place of the remote ones.
func fixtureBuilder(ctx context.Context, s *service.MapSession) error {
	bikeways := geojson.NewFeatureCollection()
	bikeways.Append(lineFeature("Bike Lane", 500))
	bikeways.Append(lineFeature("Cycle Track", 1500))
	bikeways.Append(lineFeature("Sharrows", 1000))

	points := geojson.NewFeatureCollection()
	points.Append(pointFeature(-79.3832, 43.6532))
	points.Append(pointFeature(-79.2300, 43.7800))

	for _, def := range service.BikeMapSources(service.DefaultDatasetURLs()) {
		def.URL = ""
		fc := points
		if def.Name == style.SourceBikeways {
			fc = bikeways
		}
		if err := s.LoadCollection(def, fc); err != nil {
			return err
		}
	}
	for _, spec := range style.DefaultSpecs() {
		if err := s.AddLayer(spec); err != nil {
			return err
		}
	}
	_, err := interact.NewDispatcher(nil).Bind(s)
	return err
}

type fakeGeocoder struct {
	places []geocode.Place
	err    error
}

func (f *fakeGeocoder) Forward(context.Context, string) ([]geocode.Place, error) {
	return f.places, f.err
}

func newTestAPI(t *testing.T, g *fakeGeocoder) (humatest.TestAPI, *service.SessionStore) {
	t.Helper()
	var links *humastar.Links
	cfg := huma.DefaultConfig("bikemap test", Version)
	cfg.CreateHooks = nil
	cfg.Transformers = append(cfg.Transformers, humastar.LinkTransformer(func() *humastar.Links { return links }))
	_, api := humatest.New(t, cfg)

	store := service.NewSessionStore(service.DefaultSessionConfig(), nil, fixtureBuilder, nil, nil, nil)
	svc := Services{Sessions: store, Datasets: service.DefaultDatasetURLs()}
	if g != nil {
		svc.Geocoder = g
	}
	RegisterRoutes(api, NewAPIHandler(svc, nil))
	links = humastar.AutoLinks(api)
	return api, store
}

func createSession(t *testing.T, api humatest.TestAPI) SessionBody {
	t.Helper()
	resp := api.Post("/api/v1/sessions")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var body SessionBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body
}

func linkHeader(resp interface{ Header() http.Header }) string {
	return strings.Join(resp.Header().Values("Link"), ", ")
}

func TestHealthAndInfo(t *testing.T) {
	api, _ := newTestAPI(t, nil)

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok","version":"0.1.0"}`, resp.Body.String())
	assert.Contains(t, linkHeader(resp), `</api/v1/sessions>; rel="sessions"`)
	assert.Contains(t, linkHeader(resp), `</openapi.json>; rel="service-desc"`)

	createSession(t, api)
	resp = api.Get("/api/v1/info")
	require.Equal(t, http.StatusOK, resp.Code)
	var info InfoBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &info))
	assert.Equal(t, "plat-bikemap", info.Name)
	assert.Equal(t, 1, info.Sessions)
	assert.False(t, info.Search)
	assert.Equal(t, service.DefaultBikewaysURL, info.Datasets.Bikeways)
}

func TestCreateSession(t *testing.T) {
	api, store := newTestAPI(t, nil)

	resp := api.Post("/api/v1/sessions")
	require.Equal(t, http.StatusCreated, resp.Code)
	var body SessionBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))

	assert.NotEmpty(t, body.ID)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, service.HomeViewport, body.Viewport)
	assert.Equal(t, style.LayerBike, body.Layers[0])
	assert.Len(t, body.Layers, 7)
	require.Len(t, body.Sources, 3)
	assert.Equal(t, service.SourceReady, body.Sources[0].Status)
	assert.Equal(t, 3, body.Sources[0].Features)

	links := linkHeader(resp)
	assert.Contains(t, links, `</api/v1/sessions/`+body.ID+`/viewport/reset>; rel="home"; method="POST"`)
	assert.NotContains(t, links, `rel="close-popup"`)

	t.Run("get and delete", func(t *testing.T) {
		resp := api.Get("/api/v1/sessions/" + body.ID)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, linkHeader(resp), `rel="self"`)
		assert.Contains(t, linkHeader(resp), `</api/v1/sessions>; rel="collection"`)

		resp = api.Delete("/api/v1/sessions/" + body.ID)
		assert.Equal(t, http.StatusNoContent, resp.Code)
		assert.Equal(t, 0, store.Len())

		resp = api.Get("/api/v1/sessions/" + body.ID)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestStyleDocument(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	sess := createSession(t, api)

	resp := api.Get("/api/v1/sessions/" + sess.ID + "/style")
	require.Equal(t, http.StatusOK, resp.Code)

	var doc struct {
		Version   int                               `json:"version"`
		Center    [2]float64                        `json:"center"`
		Bearing   float64                           `json:"bearing"`
		MaxBounds [2][2]float64                     `json:"maxBounds"`
		Sources   map[string]service.SourceDocument `json:"sources"`
		Layers    []json.RawMessage                 `json:"layers"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &doc))
	assert.Equal(t, 8, doc.Version)
	assert.Equal(t, [2]float64{-79.3, 43.765}, doc.Center)
	assert.Equal(t, -17.7, doc.Bearing)
	assert.Equal(t, [2][2]float64{{-79.8, 43.4}, {-78.8, 44}}, doc.MaxBounds)
	assert.Len(t, doc.Layers, 7)

	parking := doc.Sources[style.SourceParking]
	assert.True(t, parking.Cluster)
	assert.Equal(t, 14, parking.ClusterMaxZoom)
	assert.Equal(t, 50.0, parking.ClusterRadius)
	assert.Equal(t, "/api/v1/sessions/"+sess.ID+"/sources/bike_parking/data", parking.Data)

	resp = api.Get("/api/v1/sessions/" + sess.ID + "/sources/bike_parking/data")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/geo+json", resp.Header().Get("Content-Type"))
	fc, err := geojson.UnmarshalFeatureCollection(resp.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, fc.Features, 2)
}

func TestLayerFilter(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	sess := createSession(t, api)
	base := "/api/v1/sessions/" + sess.ID + "/layers/bike"

	features := func(query string) humastar.PageBody[service.RenderedFeature] {
		t.Helper()
		resp := api.Get(base + "/features" + query)
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		var page humastar.PageBody[service.RenderedFeature]
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &page))
		return page
	}

	assert.Equal(t, 3, features("").Total)

	resp := api.Put(base+"/filter", "Content-Type: application/json",
		strings.NewReader(`[">", ["get", "Shape__Length"], 1000]`))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), `"filter":[">",["get","Shape__Length"],1000]`)

	page := features("?zoom=12")
	require.Equal(t, 1, page.Total)
	assert.Equal(t, service.FeatureID(1), page.Data[0].ID)
	assert.Equal(t, "green", page.Data[0].Style["line-color"])

	t.Run("null clears", func(t *testing.T) {
		resp := api.Put(base+"/filter", "Content-Type: application/json", strings.NewReader(`null`))
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, 3, features("").Total)
	})

	t.Run("paged", func(t *testing.T) {
		resp := api.Get(base + "/features?limit=2")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, linkHeader(resp), `rel="next"`)
		assert.Len(t, features("?limit=2&offset=2").Data, 1)
	})

	t.Run("invalid filter", func(t *testing.T) {
		resp := api.Put(base+"/filter", "Content-Type: application/json", strings.NewReader(`["nope", 1]`))
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("unknown layer", func(t *testing.T) {
		resp := api.Put("/api/v1/sessions/"+sess.ID+"/layers/trails/filter", "Content-Type: application/json", strings.NewReader(`null`))
		assert.Equal(t, http.StatusNotFound, resp.Code)
		resp = api.Get("/api/v1/sessions/" + sess.ID + "/layers/trails/features")
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestDatasetVisibility(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	sess := createSession(t, api)

	resp := api.Put("/api/v1/sessions/"+sess.ID+"/datasets/parking", map[string]any{"checked": false})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var specs []json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &specs))
	require.Len(t, specs, 3)
	for _, s := range specs {
		assert.Contains(t, string(s), `"visibility":"none"`)
	}

	resp = api.Get("/api/v1/sessions/" + sess.ID + "/layers/bike_parking_unclustered/features")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"total":0`)

	resp = api.Put("/api/v1/sessions/"+sess.ID+"/layers/bike/visibility", map[string]any{"visible": false})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"visibility":"none"`)
}

func TestLayerVisibility_KeepsDatasetTogether(t *testing.T) {
	api, store := newTestAPI(t, nil)
	sess := createSession(t, api)

	resp := api.Put("/api/v1/sessions/"+sess.ID+"/layers/"+style.LayerParkingClustered+"/visibility", map[string]any{"visible": false})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	s, err := store.Get(sess.ID)
	require.NoError(t, err)
	for _, id := range style.Parking.Layers() {
		spec, ok := s.Layer(id)
		require.True(t, ok)
		assert.Equal(t, style.Hidden, spec.Visibility(), id)
	}
	checked, err := panel.DatasetChecked(s, style.Parking.Key)
	require.NoError(t, err)
	assert.False(t, checked)

	spec, _ := s.Layer(style.LayerShopsClustered)
	assert.Equal(t, style.Visible, spec.Visibility())

	resp = api.Put("/api/v1/sessions/"+sess.ID+"/layers/"+style.LayerParkingCount+"/visibility", map[string]any{"visible": true})
	require.Equal(t, http.StatusOK, resp.Code)
	for _, id := range style.Parking.Layers() {
		spec, _ := s.Layer(id)
		assert.Equal(t, style.Visible, spec.Visibility(), id)
	}
}

func TestViewport(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	sess := createSession(t, api)
	base := "/api/v1/sessions/" + sess.ID

	resp := api.Put(base+"/viewport", map[string]any{"center": []float64{-70, 50}, "zoom": 9, "bearing": 0})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var v service.Viewport
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &v))
	assert.Equal(t, orb.Point{-78.8, 44}, v.Center)

	resp = api.Post(base + "/viewport/reset")
	require.Equal(t, http.StatusOK, resp.Code)
	var cam service.Camera
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &cam))
	assert.Equal(t, service.HomeViewport, cam.Viewport)
	assert.True(t, cam.Essential)

	resp = api.Put(base+"/screen", map[string]any{"width": 800, "height": 600})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = api.Get(base + "/viewport")
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestPointerEvents(t *testing.T) {
	api, _ := newTestAPI(t, nil)
	sess := createSession(t, api)
	base := "/api/v1/sessions/" + sess.ID

	resp := api.Post(base+"/events", map[string]any{
		"kind": "move", "layer": "bike", "lngLat": []float64{-79.395, 43.655},
		"features": []map[string]any{{"id": 1}},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.JSONEq(t, `{"states":[{"source":"bikeways","id":1,"state":{"hover":true}}]}`, resp.Body.String())

	resp = api.Post(base+"/events", map[string]any{
		"kind": "click", "layer": "bike", "lngLat": []float64{-79.395, 43.655},
		"features": []map[string]any{{"id": 1}},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var m service.Mutation
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &m))
	require.NotNil(t, m.Popup)
	assert.Equal(t, []string{
		"Street Name: Bloor St W",
		"Type: Cycle Track",
		"Installation Year: ",
		"Length: 1500m",
	}, m.Popup.Lines())

	resp = api.Get(base)
	assert.Contains(t, linkHeader(resp), `</api/v1/sessions/`+sess.ID+`/popup>; rel="close-popup"; method="DELETE"`)

	resp = api.Get(base + "/popup")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = api.Delete(base + "/popup")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	resp = api.Get(base + "/popup")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	t.Run("unknown kind", func(t *testing.T) {
		resp := api.Post(base+"/events", map[string]any{"kind": "wheel", "layer": "bike", "lngLat": []float64{0, 0}})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("unknown layer", func(t *testing.T) {
		resp := api.Post(base+"/events", map[string]any{"kind": "click", "layer": "trails", "lngLat": []float64{0, 0}})
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestSearch(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		api, _ := newTestAPI(t, nil)
		resp := api.Get("/api/v1/geocode?q=High+Park")
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})

	t.Run("flies to the best match", func(t *testing.T) {
		g := &fakeGeocoder{places: []geocode.Place{{Text: "High Park", Center: orb.Point{-79.4637, 43.6465}}}}
		api, _ := newTestAPI(t, g)
		sess := createSession(t, api)

		resp := api.Get("/api/v1/geocode?q=High+Park")
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), "High Park")

		resp = api.Post("/api/v1/sessions/"+sess.ID+"/search", map[string]any{"query": "High Park"})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		var res SearchResult
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &res))
		assert.Equal(t, orb.Point{-79.4637, 43.6465}, res.Camera.Center)
		assert.Equal(t, 16.0, res.Camera.Zoom)
	})

	t.Run("upstream failure", func(t *testing.T) {
		api, _ := newTestAPI(t, &fakeGeocoder{err: errors.New("connection refused")})
		resp := api.Get("/api/v1/geocode?q=High+Park")
		assert.Equal(t, http.StatusBadGateway, resp.Code)
	})

	t.Run("no results", func(t *testing.T) {
		api, _ := newTestAPI(t, &fakeGeocoder{err: geocode.ErrNoResults})
		resp := api.Get("/api/v1/geocode?q=zzzz")
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}
