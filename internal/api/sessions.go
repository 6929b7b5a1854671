package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-bikemap/internal/humastar"
	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

// SessionBody summarises a map session.
type SessionBody struct {
	ID       string               `json:"id" doc:"Session ID"`
	Viewport service.Viewport     `json:"viewport"`
	Screen   service.ScreenSize   `json:"screen"`
	Sources  []service.SourceInfo `json:"sources"`
	Layers   []string             `json:"layers" doc:"Layer IDs in draw order"`
	Popup    *service.Popup       `json:"popup,omitempty" doc:"Open popup"`
	Cursor   string               `json:"cursor" doc:"Map canvas cursor; empty is the default"`
}

var sessionActions = []humastar.ActionDef{
	{Rel: "style", Pattern: "/api/v1/sessions/%s/style", Method: http.MethodGet, Title: "Style document"},
	{Rel: "home", Pattern: "/api/v1/sessions/%s/viewport/reset", Method: http.MethodPost, Title: "Return to Home"},
	{Rel: "events", Pattern: "/api/v1/sessions/%s/events", Method: http.MethodPost, Title: "Dispatch pointer event"},
	{Rel: "search", Pattern: "/api/v1/sessions/%s/search", Method: http.MethodPost, Title: "Fly to a place"},
	{Rel: "filter", Pattern: "/api/v1/sessions/%s/layers/" + style.LayerBike + "/filter", Method: http.MethodPut, Title: "Filter bikeways"},
}

var popupActions = []humastar.ActionDef{
	{Rel: "close-popup", Pattern: "/api/v1/sessions/%s/popup", Method: http.MethodDelete, Title: "Close popup"},
}

// Actions lists what can be done with the session; closing the popup only
// while one is open.
func (b SessionBody) Actions() []humastar.Action {
	actions := humastar.ActionsFor(b.ID, sessionActions)
	if b.Popup != nil {
		actions = append(actions, humastar.ActionsFor(b.ID, popupActions)...)
	}
	return actions
}

func sessionBody(s *service.MapSession) SessionBody {
	specs := s.Layers()
	layers := make([]string, len(specs))
	for i, spec := range specs {
		layers[i] = spec.ID
	}
	return SessionBody{
		ID:       s.ID(),
		Viewport: s.Viewport(),
		Screen:   s.Screen(),
		Sources:  s.Sources(),
		Layers:   layers,
		Popup:    s.Popup(),
		Cursor:   s.Cursor(),
	}
}

type SessionOutput struct {
	Body SessionBody
}

type ViewportOutput struct {
	Body service.Viewport
}

type CameraOutput struct {
	Body service.Camera
}

type StyleOutput struct {
	Body service.StyleDocument
}

type MutationOutput struct {
	Body service.Mutation
}

type PopupOutput struct {
	Body service.Popup
}

// RegisterSessions registers session routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	tags := huma.OperationTags("sessions")
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/api/v1/sessions",
		Summary:       "Create a map session",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusCreated,
	}, h.CreateSession)
	huma.Get(api, "/api/v1/sessions/{id}", h.GetSession, tags)
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, tags)
	huma.Get(api, "/api/v1/sessions/{id}/style", h.GetStyle, tags)
	huma.Get(api, "/api/v1/sessions/{id}/viewport", h.GetViewport, tags)
	huma.Put(api, "/api/v1/sessions/{id}/viewport", h.PutViewport, tags)
	huma.Post(api, "/api/v1/sessions/{id}/viewport/reset", h.ResetViewport, tags)
	huma.Put(api, "/api/v1/sessions/{id}/screen", h.PutScreen, tags)
	huma.Post(api, "/api/v1/sessions/{id}/events", h.DispatchEvent, tags)
	huma.Get(api, "/api/v1/sessions/{id}/popup", h.GetPopup, tags)
	huma.Delete(api, "/api/v1/sessions/{id}/popup", h.ClosePopup, tags)
}

func (h *APIHandler) CreateSession(ctx context.Context, input *struct{}) (*SessionOutput, error) {
	s, err := h.svc.Sessions.Create(ctx)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &SessionOutput{Body: sessionBody(s)}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &SessionOutput{Body: sessionBody(s)}, nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionInput) (*struct{}, error) {
	if err := h.svc.Sessions.Delete(input.ID); err != nil {
		return nil, h.toHTTP(err)
	}
	return nil, nil
}

// GetStyle returns the style document. Sources loaded inline have no URL a
// browser can fetch, so they point at the session's source data route.
func (h *APIHandler) GetStyle(ctx context.Context, input *SessionInput) (*StyleOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	doc := s.StyleDocument()
	for name, src := range doc.Sources {
		if strings.HasPrefix(src.Data, service.InlinePrefix) {
			src.Data = fmt.Sprintf("/api/v1/sessions/%s/sources/%s/data", s.ID(), name)
			doc.Sources[name] = src
		}
	}
	return &StyleOutput{Body: doc}, nil
}

func (h *APIHandler) GetViewport(ctx context.Context, input *SessionInput) (*ViewportOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &ViewportOutput{Body: s.Viewport()}, nil
}

// PutViewport moves the camera. The stored viewport is clamped to the map
// bounds and returned.
func (h *APIHandler) PutViewport(ctx context.Context, input *struct {
	SessionInput
	Body service.Viewport
}) (*ViewportOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &ViewportOutput{Body: s.JumpTo(input.Body)}, nil
}

func (h *APIHandler) ResetViewport(ctx context.Context, input *SessionInput) (*CameraOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &CameraOutput{Body: s.ResetView()}, nil
}

func (h *APIHandler) PutScreen(ctx context.Context, input *struct {
	SessionInput
	Body service.ScreenSize
}) (*ViewportOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &ViewportOutput{Body: s.SetScreenSize(input.Body)}, nil
}

// DispatchEvent runs the session's handlers for a pointer event and returns
// the applied mutation.
func (h *APIHandler) DispatchEvent(ctx context.Context, input *struct {
	SessionInput
	Body service.PointerEvent
}) (*MutationOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	switch input.Body.Kind {
	case service.PointerEnter, service.PointerMove, service.PointerLeave, service.Click:
	default:
		return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("unknown event kind %q", input.Body.Kind))
	}
	m, err := s.Dispatch(input.Body)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &MutationOutput{Body: m}, nil
}

func (h *APIHandler) GetPopup(ctx context.Context, input *SessionInput) (*PopupOutput, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	p := s.Popup()
	if p == nil {
		return nil, huma.Error404NotFound("no popup open")
	}
	return &PopupOutput{Body: *p}, nil
}

func (h *APIHandler) ClosePopup(ctx context.Context, input *SessionInput) (*struct{}, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	s.ClosePopup()
	return nil, nil
}
