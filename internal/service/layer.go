package service

import (
	"errors"
	"fmt"
	"maps"
	"math"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-bikemap/internal/cluster"
	"github.com/joeblew999/plat-bikemap/internal/expr"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

// StyleVersion is the Mapbox GL style specification version of documents.
const StyleVersion = 8

// AddLayer registers a layer. The source must already be loaded, the id
// must be unused and the spec must validate; otherwise a
// *ConfigurationError is returned.
func (s *MapSession) AddLayer(spec style.LayerSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[spec.Source]; !ok {
		return &ConfigurationError{Layer: spec.ID, Source: spec.Source, Reason: "source not loaded"}
	}
	if err := s.layers.Add(spec); err != nil {
		return &ConfigurationError{Layer: spec.ID, Source: spec.Source, Reason: err.Error()}
	}
	return nil
}

// Layer returns a copy of a layer spec.
func (s *MapSession) Layer(id string) (style.LayerSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers.Get(id)
}

// Layers returns copies of every layer in draw order.
func (s *MapSession) Layers() []style.LayerSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layers.Specs()
}

// SetFilter replaces a layer's filter. A nil filter shows every feature.
func (s *MapSession) SetFilter(layer string, filter expr.Expr) error {
	s.mu.Lock()
	err := s.layers.SetFilter(layer, filter)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLayerNotFound, layer)
	}
	s.publish(ChangeFilter, LayerFilter{Layer: layer, Filter: filter})
	return nil
}

// LayerFilter is the payload of a filter change.
type LayerFilter struct {
	Layer  string    `json:"layer"`
	Filter expr.Expr `json:"filter"`
}

// LayerVisibility is the payload of a visibility change.
type LayerVisibility struct {
	Layers  []string `json:"layers"`
	Visible bool     `json:"visible"`
}

// SetVisibility shows or hides every listed layer. A layer of a point
// dataset takes the rest of its trio with it, so the three always agree.
// Unknown ids fail the whole call before any layer changes.
func (s *MapSession) SetVisibility(ids []string, visible bool) error {
	ids = style.DatasetLayers(ids)
	s.mu.Lock()
	for _, id := range ids {
		if !s.layers.Has(id) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrLayerNotFound, id)
		}
	}
	err := s.layers.SetVisibility(ids, visible)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(ChangeVisibility, LayerVisibility{Layers: ids, Visible: visible})
	return nil
}

// Render returns the features a renderer would draw for layer at zoom with
// every paint and layout property resolved. Hidden layers and failed sources
// render nothing. Clustering applies when the source clusters and
// floor(zoom) is at most its ClusterMaxZoom.
func (s *MapSession) Render(layer string, zoom float64) ([]RenderedFeature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.layers.Get(layer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, layer)
	}
	src, ok := s.sources[spec.Source]
	if !ok {
		return nil, &ConfigurationError{Layer: layer, Source: spec.Source, Reason: "source not loaded"}
	}
	if spec.Visibility() == style.Hidden {
		return []RenderedFeature{}, nil
	}

	states := s.states[spec.Source]
	out := []RenderedFeature{}
	emit := func(id FeatureID, geom orb.Geometry, props map[string]any) {
		ctx := expr.Context{Properties: props, State: states[id]}
		if !expr.Matches(spec.Filter, ctx) {
			return
		}
		out = append(out, RenderedFeature{
			ID:         id,
			Geometry:   geom,
			Properties: props,
			State:      maps.Clone(states[id]),
			Style:      spec.Resolve(ctx),
		})
	}

	opts := src.def.Options
	if !opts.Cluster || int(math.Floor(zoom)) > opts.ClusterMaxZoom {
		for i, f := range src.fc.Features {
			emit(src.ids[i], f.Geometry, f.Properties)
		}
		return out, nil
	}

	res := src.clusterAt(zoom)
	singles := make(map[int64]struct{}, len(res.Singles))
	for _, p := range res.Singles {
		singles[p.ID] = struct{}{}
	}
	for i, f := range src.fc.Features {
		if _, isPoint := f.Geometry.(orb.Point); isPoint {
			if _, single := singles[int64(src.ids[i])]; !single {
				continue
			}
		}
		emit(src.ids[i], f.Geometry, f.Properties)
	}
	for _, a := range res.Aggregates {
		emit(FeatureID(a.ID), a.Center, a.Properties())
	}
	return out, nil
}

// clusterAt groups the source's point features at zoom. Results are cached
// per integer zoom since the collection never changes after load.
func (src *loadedSource) clusterAt(zoom float64) cluster.Result {
	z := int(math.Max(0, math.Floor(zoom)))
	if res, ok := src.clusters[z]; ok {
		return res
	}

	var points []cluster.Point
	var maxID int64 = -1
	for i, f := range src.fc.Features {
		id := int64(src.ids[i])
		maxID = max(maxID, id)
		if p, ok := f.Geometry.(orb.Point); ok {
			points = append(points, cluster.Point{ID: id, Coord: p})
		}
	}
	res := cluster.Cluster(points, float64(z), cluster.Options{
		Radius:  src.def.Options.ClusterRadius,
		MaxZoom: src.def.Options.ClusterMaxZoom,
		IDBase:  maxID + 1,
	})
	src.clusters[z] = res
	return res
}

// StyleDocument describes the session for a browser map: camera, bounds,
// sources and layers with their current filters and visibility.
func (s *MapSession) StyleDocument() StyleDocument {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := StyleDocument{
		Version:   StyleVersion,
		Center:    s.viewport.Center,
		Zoom:      s.viewport.Zoom,
		Bearing:   s.viewport.Bearing,
		MaxBounds: [2]orb.Point{s.cfg.Bounds.Min, s.cfg.Bounds.Max},
		Sources:   make(map[string]SourceDocument, len(s.sources)),
		Layers:    s.layers.Specs(),
	}
	for name, src := range s.sources {
		o := src.def.Options
		doc.Sources[name] = SourceDocument{
			Type:           "geojson",
			Data:           src.def.URL,
			GenerateID:     o.GenerateID,
			Cluster:        o.Cluster,
			ClusterMaxZoom: o.ClusterMaxZoom,
			ClusterRadius:  o.ClusterRadius,
		}
	}
	return doc
}

// IsConfigurationError reports whether err is a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
