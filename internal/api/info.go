package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-bikemap/internal/service"
)

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

type InfoBody struct {
	Name     string              `json:"name" doc:"Service name"`
	Version  string              `json:"version" doc:"Service version"`
	Uptime   string              `json:"uptime" doc:"Time since start"`
	Sessions int                 `json:"sessions" doc:"Live map sessions"`
	Search   bool                `json:"search" doc:"Whether place search is configured"`
	Datasets service.DatasetURLs `json:"datasets" doc:"Dataset locations"`
	Features []string            `json:"features" doc:"Available features"`
}

// RegisterHealth registers health and info routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-bikemap",
		Version:  Version,
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		Sessions: h.svc.Sessions.Len(),
		Search:   h.svc.Geocoder != nil,
		Datasets: h.svc.Datasets,
		Features: []string{"bikeways", "bike-parking", "bike-shops", "clustering", "geocoding"},
	}}, nil
}
