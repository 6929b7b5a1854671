// Package api defines the Huma REST routes over map sessions.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-bikemap/internal/geocode"
	"github.com/joeblew999/plat-bikemap/internal/panel"
	"github.com/joeblew999/plat-bikemap/internal/service"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Services holds the dependencies of the API handlers.
type Services struct {
	Sessions *service.SessionStore
	Geocoder panel.Geocoder // nil disables search
	Datasets service.DatasetURLs
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc     Services
	log     *zap.Logger
	started time.Time
}

func NewAPIHandler(svc Services, log *zap.Logger) *APIHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIHandler{svc: svc, log: log, started: time.Now()}
}

// RegisterRoutes registers every REST route of h on api.
func RegisterRoutes(api huma.API, h *APIHandler) {
	huma.AutoRegister(api, h)
}

// Shared inputs.

type SessionInput struct {
	ID string `path:"id" doc:"Session ID" example:"2f1c6a1e-7d0e-4f59-9d2b-1c1f4f0e8a11"`
}

type LayerInput struct {
	SessionInput
	Layer string `path:"layer" doc:"Layer ID" example:"bike"`
}

type SourceInput struct {
	SessionInput
	Name string `path:"name" doc:"Source name" example:"bikeways"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

// session looks up a session, mapping a miss to 404.
func (h *APIHandler) session(id string) (*service.MapSession, error) {
	s, err := h.svc.Sessions.Get(id)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return s, nil
}

// toHTTP maps domain errors to Huma status errors.
func (h *APIHandler) toHTTP(err error) error {
	var fe *service.DataFetchError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrLayerNotFound),
		errors.Is(err, service.ErrSourceNotFound),
		errors.Is(err, panel.ErrUnknownDataset):
		return huma.Error404NotFound(err.Error())
	case service.IsConfigurationError(err):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, geocode.ErrEmptyQuery):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, geocode.ErrNoResults):
		return huma.Error404NotFound(err.Error())
	case errors.As(err, &fe):
		return huma.Error502BadGateway(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	}
	h.log.Error("request failed", zap.Error(err))
	return huma.Error500InternalServerError("internal error")
}
