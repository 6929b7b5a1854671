package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-bikemap/internal/geocode"
	"github.com/joeblew999/plat-bikemap/internal/panel"
	"github.com/joeblew999/plat-bikemap/internal/service"
)

type GeocodeInput struct {
	Query string `query:"q" required:"true" minLength:"1" doc:"Place to search for" example:"High Park"`
}

type PlacesOutput struct {
	Body []geocode.Place
}

type SearchBody struct {
	Query string `json:"query" minLength:"1" doc:"Place to search for"`
}

type SearchResult struct {
	Place  geocode.Place  `json:"place"`
	Camera service.Camera `json:"camera" doc:"Fly-to command, clamped to the map bounds"`
}

type SearchOutput struct {
	Body SearchResult
}

// RegisterGeocode registers place search routes.
func (h *APIHandler) RegisterGeocode(api huma.API) {
	tags := huma.OperationTags("search")
	huma.Get(api, "/api/v1/geocode", h.Geocode, tags)
	huma.Post(api, "/api/v1/sessions/{id}/search", h.Search, tags)
}

func (h *APIHandler) geocoder() (panel.Geocoder, error) {
	if h.svc.Geocoder == nil {
		return nil, huma.Error503ServiceUnavailable("place search is not configured")
	}
	return h.svc.Geocoder, nil
}

func (h *APIHandler) Geocode(ctx context.Context, input *GeocodeInput) (*PlacesOutput, error) {
	g, err := h.geocoder()
	if err != nil {
		return nil, err
	}
	places, err := g.Forward(ctx, input.Query)
	if err != nil {
		return nil, h.geocodeError(err)
	}
	return &PlacesOutput{Body: places}, nil
}

// Search geocodes a query and flies the session to the best match.
func (h *APIHandler) Search(ctx context.Context, input *struct {
	SessionInput
	Body SearchBody
}) (*SearchOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	g, err := h.geocoder()
	if err != nil {
		return nil, err
	}
	place, cam, err := panel.Search(ctx, s, g, input.Body.Query)
	if err != nil {
		return nil, h.geocodeError(err)
	}
	return &SearchOutput{Body: SearchResult{Place: place, Camera: cam}}, nil
}

// geocodeError maps upstream geocoder failures to 502.
func (h *APIHandler) geocodeError(err error) error {
	if errors.Is(err, geocode.ErrEmptyQuery) || errors.Is(err, geocode.ErrNoResults) {
		return h.toHTTP(err)
	}
	h.log.Warn("geocoding failed", zap.Error(err))
	return huma.Error502BadGateway("geocoding failed: " + err.Error())
}
