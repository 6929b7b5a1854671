package interact

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

// Dispatcher installs hover, popup and cursor handlers on map sessions.
type Dispatcher struct {
	// Hover maps hoverable layers to their source.
	Hover map[string]string
	// Popups maps clickable layers to their popup template.
	Popups map[string]Template

	log *zap.Logger
}

// NewDispatcher returns the bike map's interactions: hover highlighting on
// bikeways, and popups with a pointer cursor on bikeways and on individual
// parking stations and shops.
func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		Hover: map[string]string{
			style.LayerBike: style.SourceBikeways,
		},
		Popups: map[string]Template{
			style.LayerBike:               BikewayPopup,
			style.LayerParkingUnclustered: ParkingPopup,
			style.LayerShopsUnclustered:   ShopPopup,
		},
		log: log,
	}
}

// Bind subscribes the dispatcher's handlers on s. Each session gets its own
// hover trackers, which are returned by layer.
func (d *Dispatcher) Bind(s *service.MapSession) (map[string]*HoverTracker, error) {
	trackers := make(map[string]*HoverTracker, len(d.Hover))
	for layer, source := range d.Hover {
		t := NewHoverTracker(source)
		if err := s.OnPointerMove(layer, t.Move); err != nil {
			return nil, fmt.Errorf("bind hover: %w", err)
		}
		if err := s.OnPointerLeave(layer, t.Leave); err != nil {
			return nil, fmt.Errorf("bind hover: %w", err)
		}
		trackers[layer] = t
	}

	for layer, tmpl := range d.Popups {
		if err := s.OnPointerEnter(layer, PointerCursor); err != nil {
			return nil, fmt.Errorf("bind cursor: %w", err)
		}
		if err := s.OnPointerLeave(layer, DefaultCursor); err != nil {
			return nil, fmt.Errorf("bind cursor: %w", err)
		}
		if err := s.OnClick(layer, d.clickHandler(s.ID(), tmpl)); err != nil {
			return nil, fmt.Errorf("bind popup: %w", err)
		}
	}

	d.log.Debug("interactions bound",
		zap.String("session", s.ID()),
		zap.Int("hover_layers", len(d.Hover)),
		zap.Int("popup_layers", len(d.Popups)))
	return trackers, nil
}

// Layers returns every layer the dispatcher listens on, sorted.
func (d *Dispatcher) Layers() []string {
	seen := make(map[string]struct{}, len(d.Hover)+len(d.Popups))
	for l := range d.Hover {
		seen[l] = struct{}{}
	}
	for l := range d.Popups {
		seen[l] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// clickHandler opens a popup for the topmost clicked feature.
func (d *Dispatcher) clickHandler(session string, tmpl Template) service.Handler {
	return func(ev service.PointerEvent) service.Mutation {
		if len(ev.Features) == 0 {
			return service.Mutation{}
		}
		p := tmpl.Build(ev.Layer, ev.LngLat, ev.Features[0].Properties)
		if err := MissingError(p); err != nil {
			d.log.Debug("popup rendered with empty fields",
				zap.String("session", session),
				zap.String("layer", ev.Layer),
				zap.Int64("feature", int64(ev.Features[0].ID)),
				zap.Error(err))
		}
		return service.Mutation{Popup: &p}
	}
}
