package api

import (
	"context"
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-bikemap/internal/service"
)

type SourcesOutput struct {
	Body []service.SourceInfo
}

type SourceOutput struct {
	Body service.SourceInfo
}

type GeoJSONOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// RegisterSources registers source routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	tags := huma.OperationTags("sources")
	huma.Get(api, "/api/v1/sessions/{id}/sources", h.GetSources, tags)
	huma.Get(api, "/api/v1/sessions/{id}/sources/{name}", h.GetSource, tags)
	huma.Get(api, "/api/v1/sessions/{id}/sources/{name}/data", h.GetSourceData, tags)
}

func (h *APIHandler) GetSources(ctx context.Context, input *SessionInput) (*SourcesOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &SourcesOutput{Body: s.Sources()}, nil
}

func (h *APIHandler) GetSource(ctx context.Context, input *SourceInput) (*SourceOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	info, ok := s.Source(input.Name)
	if !ok {
		return nil, huma.Error404NotFound("source not found: " + input.Name)
	}
	return &SourceOutput{Body: info}, nil
}

// GetSourceData returns the source collection with its feature ids.
func (h *APIHandler) GetSourceData(ctx context.Context, input *SourceInput) (*GeoJSONOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	fc, err := s.Collection(input.Name)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &GeoJSONOutput{ContentType: "application/geo+json", Body: b}, nil
}
