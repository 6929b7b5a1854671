package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-bikemap/internal/expr"
	"github.com/joeblew999/plat-bikemap/internal/humastar"
	"github.com/joeblew999/plat-bikemap/internal/panel"
	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

type LayersOutput struct {
	Body []style.LayerSpec
}

type LayerOutput struct {
	Body style.LayerSpec
}

type VisibilityBody struct {
	Visible bool `json:"visible" doc:"Show or hide the layer"`
}

type DatasetBody struct {
	Checked bool `json:"checked" doc:"Checkbox state; shows or hides every layer of the dataset"`
}

type FeaturesInput struct {
	LayerInput
	Zoom   float64 `query:"zoom" default:"10" minimum:"0" maximum:"22" doc:"Zoom level to render at"`
	Offset int     `query:"offset" default:"0" minimum:"0"`
	Limit  int     `query:"limit" default:"100" minimum:"1" maximum:"1000"`
}

type FeaturesOutput struct {
	Body humastar.PageBody[service.RenderedFeature]
}

// RegisterLayers registers layer routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	tags := huma.OperationTags("layers")
	huma.Get(api, "/api/v1/sessions/{id}/layers", h.GetLayers, tags)
	huma.Get(api, "/api/v1/sessions/{id}/layers/{layer}", h.GetLayer, tags)
	huma.Put(api, "/api/v1/sessions/{id}/layers/{layer}/filter", h.PutFilter, tags)
	huma.Put(api, "/api/v1/sessions/{id}/layers/{layer}/visibility", h.PutVisibility, tags)
	huma.Get(api, "/api/v1/sessions/{id}/layers/{layer}/features", h.GetFeatures, tags)
	huma.Put(api, "/api/v1/sessions/{id}/datasets/{key}", h.PutDataset, tags)
}

func (h *APIHandler) GetLayers(ctx context.Context, input *SessionInput) (*LayersOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &LayersOutput{Body: s.Layers()}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *LayerInput) (*LayerOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	spec, ok := s.Layer(input.Layer)
	if !ok {
		return nil, huma.Error404NotFound("layer not found: " + input.Layer)
	}
	return &LayerOutput{Body: spec}, nil
}

// PutFilter replaces a layer filter. The body is a filter expression in
// style JSON, e.g. [">", ["get", "Shape__Length"], 1000]; null clears it.
func (h *APIHandler) PutFilter(ctx context.Context, input *struct {
	LayerInput
	RawBody []byte `contentType:"application/json"`
}) (*LayerOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	f, err := expr.Unmarshal(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid filter: " + err.Error())
	}
	if err := s.SetFilter(input.Layer, f); err != nil {
		return nil, h.toHTTP(err)
	}
	spec, _ := s.Layer(input.Layer)
	return &LayerOutput{Body: spec}, nil
}

// PutVisibility shows or hides a layer. Dataset layers move with the rest
// of their trio; the returned spec is the requested layer's.
func (h *APIHandler) PutVisibility(ctx context.Context, input *struct {
	LayerInput
	Body VisibilityBody
}) (*LayerOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := s.SetVisibility([]string{input.Layer}, input.Body.Visible); err != nil {
		return nil, h.toHTTP(err)
	}
	spec, _ := s.Layer(input.Layer)
	return &LayerOutput{Body: spec}, nil
}

// GetFeatures renders a layer at a zoom level: what the map would draw,
// with clusters and resolved styles, one page at a time.
func (h *APIHandler) GetFeatures(ctx context.Context, input *FeaturesInput) (*FeaturesOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	features, err := s.Render(input.Layer, input.Zoom)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &FeaturesOutput{Body: humastar.Page(features, input.Offset, input.Limit)}, nil
}

// PutDataset checks or unchecks a dataset box, toggling its layers together.
func (h *APIHandler) PutDataset(ctx context.Context, input *struct {
	SessionInput
	Key  string `path:"key" enum:"parking,shops" doc:"Dataset key"`
	Body DatasetBody
}) (*LayersOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := panel.SetDataset(s, input.Key, input.Body.Checked); err != nil {
		return nil, h.toHTTP(err)
	}
	d, _ := panel.Dataset(input.Key)
	out := make([]style.LayerSpec, 0, 3)
	for _, id := range d.Layers() {
		spec, _ := s.Layer(id)
		out = append(out, spec)
	}
	return &LayersOutput{Body: out}, nil
}
