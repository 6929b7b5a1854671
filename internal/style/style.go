// Package style is the layer style registry: declarative render specs for
// each named map layer, resolved per feature against its properties and
// feature state.
package style

import (
	"fmt"

	"github.com/joeblew999/plat-bikemap/internal/expr"
	"github.com/joeblew999/plat-bikemap/internal/validate"
)

// LayerType is the geometry rendering type of a layer.
type LayerType string

const (
	LineLayer   LayerType = "line"
	CircleLayer LayerType = "circle"
	SymbolLayer LayerType = "symbol"
)

// Visibility values for the "visibility" layout property.
const (
	Visible = "visible"
	Hidden  = "none"
)

// Properties maps paint or layout property names to expressions.
type Properties map[string]expr.Expr

// LayerSpec declares how one layer renders features of one source.
type LayerSpec struct {
	ID     string     `json:"id" validate:"required" doc:"Layer identifier" example:"bike"`
	Type   LayerType  `json:"type" validate:"required,oneof=line circle symbol" enum:"line,circle,symbol" doc:"Geometry rendering type"`
	Source string     `json:"source" validate:"required" doc:"Source name" example:"bikeways"`
	Filter expr.Expr  `json:"filter,omitempty" doc:"Filter expression"`
	Paint  Properties `json:"paint,omitempty" doc:"Paint properties"`
	Layout Properties `json:"layout,omitempty" doc:"Layout properties"`
}

// Clone returns a copy whose property maps can be mutated independently.
func (s LayerSpec) Clone() LayerSpec {
	out := s
	out.Paint = make(Properties, len(s.Paint))
	for k, v := range s.Paint {
		out.Paint[k] = v
	}
	out.Layout = make(Properties, len(s.Layout))
	for k, v := range s.Layout {
		out.Layout[k] = v
	}
	return out
}

// Visibility returns "visible" or "none".
func (s LayerSpec) Visibility() string {
	if v, ok := s.Layout["visibility"]; ok {
		if str, ok := v.Eval(expr.Context{}).(string); ok && str == Hidden {
			return Hidden
		}
	}
	return Visible
}

// Resolved holds evaluated paint and layout values for one feature.
type Resolved map[string]any

// Resolve evaluates every paint and layout property of the spec.
func (s LayerSpec) Resolve(ctx expr.Context) Resolved {
	out := make(Resolved, len(s.Paint)+len(s.Layout))
	for k, e := range s.Layout {
		out[k] = e.Eval(ctx)
	}
	for k, e := range s.Paint {
		out[k] = e.Eval(ctx)
	}
	return out
}

// Registry is an ordered set of layer specs. It is not safe for concurrent
// use; the owning session serialises access.
type Registry struct {
	order []string
	specs map[string]LayerSpec
}

// NewRegistry returns a registry holding the given specs in order.
func NewRegistry(specs ...LayerSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]LayerSpec, len(specs))}
	for _, s := range specs {
		if err := r.Add(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add validates and appends a spec.
func (r *Registry) Add(s LayerSpec) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid layer spec %q: %w", s.ID, err)
	}
	if _, exists := r.specs[s.ID]; exists {
		return fmt.Errorf("layer %q already exists", s.ID)
	}
	r.specs[s.ID] = s.Clone()
	r.order = append(r.order, s.ID)
	return nil
}

// Get returns a copy of the spec with the given id.
func (r *Registry) Get(id string) (LayerSpec, bool) {
	s, ok := r.specs[id]
	if !ok {
		return LayerSpec{}, false
	}
	return s.Clone(), true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.specs[id]
	return ok
}

// Specs returns copies of all specs in registration order.
func (r *Registry) Specs() []LayerSpec {
	out := make([]LayerSpec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.specs[id].Clone())
	}
	return out
}

// SetFilter replaces a layer's filter; nil clears it.
func (r *Registry) SetFilter(id string, filter expr.Expr) error {
	s, ok := r.specs[id]
	if !ok {
		return fmt.Errorf("layer %q not found", id)
	}
	s.Filter = filter
	r.specs[id] = s
	return nil
}

// SetVisibility sets the visibility of every listed layer. Unknown ids are
// reported before anything changes.
func (r *Registry) SetVisibility(ids []string, visible bool) error {
	for _, id := range ids {
		if _, ok := r.specs[id]; !ok {
			return fmt.Errorf("layer %q not found", id)
		}
	}
	value := Visible
	if !visible {
		value = Hidden
	}
	for _, id := range ids {
		s := r.specs[id]
		layout := make(Properties, len(s.Layout)+1)
		for k, v := range s.Layout {
			layout[k] = v
		}
		layout["visibility"] = expr.Literal(value)
		s.Layout = layout
		r.specs[id] = s
	}
	return nil
}
