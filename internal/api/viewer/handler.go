// Package viewer contains the Datastar SSE handlers behind the map page's
// control panel, the change stream that drives the browser map, and the
// page itself.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-bikemap/internal/geocode"
	"github.com/joeblew999/plat-bikemap/internal/humastar"
	"github.com/joeblew999/plat-bikemap/internal/panel"
	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/templates"
)

// Base is the route prefix of a session's panel endpoints.
const Base = "/api/v1/viewer/{id}"

// Signal names bound by the page.
const (
	SignalLegendOpen  = "legendOpen"
	SignalLegendLabel = "legendLabel"
	SignalLength      = "length"
	SignalQuery       = "query"
	SignalStatus      = "status"
	SignalError       = "error"
)

// Handler serves the panel of every session in a store.
type Handler struct {
	humastar.Handler
	sessions *service.SessionStore
	geocoder panel.Geocoder
	bus      *service.EventBus
	log      *zap.Logger

	heartbeat time.Duration
}

// Heartbeat is how often an open change stream marks its session active.
const Heartbeat = 30 * time.Second

// NewHandler creates a panel handler. geocoder may be nil, which disables
// search.
func NewHandler(sessions *service.SessionStore, geocoder panel.Geocoder, bus *service.EventBus, renderer *templates.Renderer, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		geocoder: geocoder,
		bus:      bus,
		log:      log,

		heartbeat: Heartbeat,
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags(humastar.PanelTag)
	huma.Get(api, Base+"/panel", h.Panel, tags)
	huma.Post(api, Base+"/legend/toggle", h.ToggleLegend, tags)
	huma.Post(api, Base+"/datasets/{key}", h.SetDataset, tags)
	huma.Post(api, Base+"/length", h.SelectLength, tags)
	huma.Post(api, Base+"/home", h.Home, tags)
	huma.Post(api, Base+"/search", h.Search, tags)
	huma.Get(api, Base+"/events", h.Events, tags)
}

type IDInput struct {
	ID string `path:"id" doc:"Session ID"`
}

// SignalsIDInput carries a session id and the page's Datastar signals.
type SignalsIDInput struct {
	ID      string `path:"id" doc:"Session ID"`
	RawBody []byte
}

func (i *SignalsIDInput) signals() (humastar.Signals, error) {
	return parseSignals(i.RawBody)
}

type DatasetInput struct {
	ID      string `path:"id" doc:"Session ID"`
	Key     string `path:"key" enum:"parking,shops" doc:"Dataset key"`
	RawBody []byte
}

func (i *DatasetInput) signals() (humastar.Signals, error) {
	return parseSignals(i.RawBody)
}

func parseSignals(raw []byte) (humastar.Signals, error) {
	in := humastar.SignalsInput{RawBody: raw}
	return in.MustParse()
}

func (h *Handler) session(id string) (*service.MapSession, error) {
	s, err := h.sessions.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return s, nil
}

// panelSignals is the control state derived from the session's layers.
func panelSignals(s *service.MapSession) map[string]any {
	out := map[string]any{
		SignalLength: strconv.Itoa(int(panel.SelectedLength(s))),
	}
	for _, d := range panel.DatasetLabels() {
		if checked, err := panel.DatasetChecked(s, d.Key); err == nil {
			out[d.Key] = checked
		}
	}
	return out
}

func lengthOptions() []humastar.SelectOptionData {
	choices := panel.LengthChoices()
	out := make([]humastar.SelectOptionData, len(choices))
	for i, c := range choices {
		out[i] = humastar.SelectOptionData{Value: strconv.Itoa(int(c.Index)), Label: c.Label}
	}
	return out
}

// Panel renders the legend, the dataset swatches and the length dropdown,
// and syncs the control signals with the session.
func (h *Handler) Panel(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		rows := panel.LegendRows()
		items := make([]any, len(rows))
		for i, r := range rows {
			items[i] = r
		}
		sse.Patch(h.RenderList("legend-row", items, "No categories", "The legend is empty"), "#"+panel.IDLegend)
		for _, d := range panel.DatasetLabels() {
			sse.Patch(h.Renderer.MustRender("dataset-label", d), "#"+d.Mount)
		}
		sse.Patch(h.RenderSelect("", lengthOptions()), "#"+panel.IDLengthList)

		legend := panel.InitialLegend()
		signals := panelSignals(s)
		signals[SignalLegendOpen] = legend.Expanded
		signals[SignalLegendLabel] = legend.Label
		sse.Signals(signals)
	}), nil
}

// ToggleLegend flips the legend. Its open state lives in the page; a page
// that sends none is treated as showing the initial legend.
func (h *Handler) ToggleLegend(ctx context.Context, input *SignalsIDInput) (*huma.StreamResponse, error) {
	if _, err := h.session(input.ID); err != nil {
		return nil, err
	}
	signals, err := input.signals()
	if err != nil {
		return nil, err
	}
	current := panel.InitialLegend()
	if signals.Has(SignalLegendOpen) {
		current = panel.Legend(signals.Bool(SignalLegendOpen))
	}
	next := current.Toggle()
	return h.Stream(func(sse humastar.SSE) {
		sse.Signals(map[string]any{
			SignalLegendOpen:  next.Expanded,
			SignalLegendLabel: next.Label,
		})
	}), nil
}

// SetDataset applies a dataset checkbox. The map follows through the
// change stream.
func (h *Handler) SetDataset(ctx context.Context, input *DatasetInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.signals()
	if err != nil {
		return nil, err
	}
	checked := signals.Bool(input.Key)
	return h.Stream(func(sse humastar.SSE) {
		if err := panel.SetDataset(s, input.Key, checked); err != nil {
			sse.Error(err.Error())
			return
		}
		sse.Signals(map[string]any{input.Key: checked, SignalError: ""})
	}), nil
}

// SelectLength applies the bikeway length dropdown.
func (h *Handler) SelectLength(ctx context.Context, input *SignalsIDInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.signals()
	if err != nil {
		return nil, err
	}
	opt := panel.LengthOption(signals.Int(SignalLength))
	return h.Stream(func(sse humastar.SSE) {
		if err := panel.SelectLength(s, opt); err != nil {
			sse.Error(err.Error())
			return
		}
		sse.Signals(map[string]any{SignalLength: strconv.Itoa(int(opt)), SignalError: ""})
	}), nil
}

// Home returns the map to its initial view.
func (h *Handler) Home(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		panel.Home(s)
		sse.Signals(map[string]any{SignalStatus: "", SignalError: ""})
	}), nil
}

// Search flies the map to the place typed in the search box.
func (h *Handler) Search(ctx context.Context, input *SignalsIDInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.signals()
	if err != nil {
		return nil, err
	}
	query := signals.String(SignalQuery)
	return h.Stream(func(sse humastar.SSE) {
		if h.geocoder == nil {
			sse.Error("Search is not available")
			return
		}
		place, _, err := panel.Search(ctx, s, h.geocoder, query)
		switch {
		case errors.Is(err, geocode.ErrEmptyQuery):
			sse.Error("Enter a place to search for")
		case errors.Is(err, geocode.ErrNoResults):
			sse.Error(fmt.Sprintf("No results for %q", query))
		case err != nil:
			h.log.Warn("search failed", zap.String("session", s.ID()), zap.Error(err))
			sse.Error("Search failed")
		default:
			sse.Signals(map[string]any{SignalStatus: place.Name, SignalError: ""})
		}
	}), nil
}
