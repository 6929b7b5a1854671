// Package service contains the map session: viewport, loaded sources,
// registered layers, feature state and the event subscription surface the
// interaction dispatcher binds to.
package service

import (
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-bikemap/internal/style"
)

// FeatureID identifies a feature within its source.
type FeatureID int64

// SourceOptions configure a GeoJSON source.
type SourceOptions struct {
	GenerateID     bool    `json:"generateId" doc:"Assign index ids to every feature"`
	Cluster        bool    `json:"cluster" doc:"Cluster point features"`
	ClusterMaxZoom int     `json:"clusterMaxZoom,omitempty" validate:"gte=0,lte=24" minimum:"0" maximum:"24" doc:"Maximum zoom at which points cluster"`
	ClusterRadius  float64 `json:"clusterRadius,omitempty" validate:"gte=0" minimum:"0" doc:"Pixel radius over which points cluster"`
}

// Cluster defaults.
const (
	DefaultClusterMaxZoom = 14
	DefaultClusterRadius  = 50
)

func (o SourceOptions) withDefaults() SourceOptions {
	if o.Cluster {
		if o.ClusterMaxZoom == 0 {
			o.ClusterMaxZoom = DefaultClusterMaxZoom
		}
		if o.ClusterRadius == 0 {
			o.ClusterRadius = DefaultClusterRadius
		}
	}
	return o
}

// SourceDef names a remote dataset and how to load it.
type SourceDef struct {
	Name    string        `json:"name" validate:"required"`
	URL     string        `json:"url" validate:"required,url"`
	Options SourceOptions `json:"options"`
}

// SourceStatus is the load state of a source.
type SourceStatus string

const (
	SourceReady  SourceStatus = "ready"
	SourceFailed SourceStatus = "failed"
)

// Viewport is the map camera.
type Viewport struct {
	Center  orb.Point `json:"center" doc:"[longitude, latitude]"`
	Zoom    float64   `json:"zoom" doc:"Zoom level"`
	Bearing float64   `json:"bearing" doc:"Rotation in degrees"`
}

// Camera is an animated viewport transition for the browser map.
type Camera struct {
	Viewport
	Essential bool `json:"essential" doc:"Animation must not be skipped for reduced motion"`
}

// EventKind is a pointer event type.
type EventKind string

const (
	PointerEnter EventKind = "enter"
	PointerMove  EventKind = "move"
	PointerLeave EventKind = "leave"
	Click        EventKind = "click"
)

// FeatureRef is a feature under the pointer.
type FeatureRef struct {
	ID         FeatureID      `json:"id"`
	Properties map[string]any `json:"properties,omitempty"`
}

// PointerEvent is a pointer interaction on a named layer. Features are
// ordered topmost first.
type PointerEvent struct {
	Kind     EventKind    `json:"kind"`
	Layer    string       `json:"layer"`
	LngLat   orb.Point    `json:"lngLat"`
	Features []FeatureRef `json:"features,omitempty"`
}

// Handler reacts to a pointer event by describing the mutation to apply.
// Handlers run while the session is locked and must not call back into it.
type Handler func(PointerEvent) Mutation

// FeatureStateChange sets flags on one feature.
type FeatureStateChange struct {
	Source string         `json:"source"`
	ID     FeatureID      `json:"id"`
	State  map[string]any `json:"state"`
}

// PopupField is one "Label: value" line of a popup.
type PopupField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// PopupLink is the attribution link at the bottom of a popup.
type PopupLink struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Popup is an info window anchored at a map coordinate.
type Popup struct {
	Layer   string       `json:"layer"`
	LngLat  orb.Point    `json:"lngLat"`
	Fields  []PopupField `json:"fields"`
	Link    PopupLink    `json:"link"`
	Missing []string     `json:"missing,omitempty"`
}

// Lines returns the popup's text lines.
func (p Popup) Lines() []string {
	out := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		out[i] = f.Label + ": " + f.Value
	}
	return out
}

// Mutation is the state change produced by handling one event.
type Mutation struct {
	States     []FeatureStateChange `json:"states,omitempty"`
	Popup      *Popup               `json:"popup,omitempty"`
	ClosePopup bool                 `json:"closePopup,omitempty"`
	Cursor     *string              `json:"cursor,omitempty"`
}

// Empty reports whether the mutation changes nothing.
func (m Mutation) Empty() bool {
	return len(m.States) == 0 && m.Popup == nil && !m.ClosePopup && m.Cursor == nil
}

// Merge appends o's effects after m's.
func (m *Mutation) Merge(o Mutation) {
	m.States = append(m.States, o.States...)
	if o.ClosePopup {
		m.ClosePopup = true
		m.Popup = nil
	}
	if o.Popup != nil {
		m.Popup = o.Popup
		m.ClosePopup = false
	}
	if o.Cursor != nil {
		m.Cursor = o.Cursor
	}
}

// RenderedFeature is a feature as the renderer would draw it.
type RenderedFeature struct {
	ID         FeatureID      `json:"id"`
	Geometry   orb.Geometry   `json:"-"`
	Properties map[string]any `json:"properties"`
	State      map[string]any `json:"state,omitempty"`
	Style      style.Resolved `json:"style"`
}

// SourceDocument is the style-document form of a source.
type SourceDocument struct {
	Type           string  `json:"type"`
	Data           string  `json:"data"`
	GenerateID     bool    `json:"generateId,omitempty"`
	Cluster        bool    `json:"cluster,omitempty"`
	ClusterMaxZoom int     `json:"clusterMaxZoom,omitempty"`
	ClusterRadius  float64 `json:"clusterRadius,omitempty"`
}

// StyleDocument is everything the browser map needs to reproduce the
// session: camera, bounds, sources and layers.
type StyleDocument struct {
	Version   int                       `json:"version"`
	Center    orb.Point                 `json:"center"`
	Zoom      float64                   `json:"zoom"`
	Bearing   float64                   `json:"bearing"`
	MaxBounds [2]orb.Point              `json:"maxBounds"`
	Sources   map[string]SourceDocument `json:"sources"`
	Layers    []style.LayerSpec         `json:"layers"`
}
