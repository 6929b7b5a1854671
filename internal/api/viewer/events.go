package viewer

import (
	"context"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-bikemap/internal/humastar"
	"github.com/joeblew999/plat-bikemap/internal/panel"
	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

// Browser map commands, dispatched as CustomEvents on the document.
const (
	CmdFlyTo        = "map-fly-to"
	CmdFilter       = "map-filter"
	CmdVisibility   = "map-visibility"
	CmdFeatureState = "map-feature-state"
	CmdCursor       = "map-cursor"
	CmdPopup        = "map-popup"
	CmdPopupClose   = "map-popup-close"
)

// Command is one browser map instruction.
type Command struct {
	Name   string
	Detail any
}

// Update is what one session change means for the page: map commands and
// panel signals to sync.
type Update struct {
	Commands []Command
	Signals  map[string]any
}

// translate turns a session change into a page update. Plain viewport
// changes come from the browser itself and are not echoed back; only
// animated camera moves are forwarded.
func (h *Handler) translate(s *service.MapSession, c service.Change) Update {
	var u Update
	switch c.Kind {
	case service.ChangeViewport:
		if cam, ok := c.Payload.(service.Camera); ok {
			u.Commands = append(u.Commands, Command{CmdFlyTo, cam})
		}

	case service.ChangeFilter:
		lf, ok := c.Payload.(service.LayerFilter)
		if !ok {
			break
		}
		u.Commands = append(u.Commands, Command{CmdFilter, lf})
		if lf.Layer == style.LayerBike {
			u.Signals = map[string]any{SignalLength: strconv.Itoa(int(panel.SelectedLength(s)))}
		}

	case service.ChangeVisibility:
		if lv, ok := c.Payload.(service.LayerVisibility); ok {
			u.Commands = append(u.Commands, Command{CmdVisibility, lv})
			u.Signals = panelSignals(s)
			delete(u.Signals, SignalLength)
		}

	case service.ChangeMutation:
		m, ok := c.Payload.(service.Mutation)
		if !ok {
			break
		}
		if len(m.States) > 0 {
			u.Commands = append(u.Commands, Command{CmdFeatureState, map[string]any{"states": m.States}})
		}
		if m.Cursor != nil {
			u.Commands = append(u.Commands, Command{CmdCursor, map[string]any{"cursor": *m.Cursor}})
		}
		if m.ClosePopup {
			u.Commands = append(u.Commands, Command{CmdPopupClose, map[string]any{}})
		}
		if m.Popup != nil {
			if cmd, ok := h.popupCommand(s, m.Popup); ok {
				u.Commands = append(u.Commands, cmd)
			}
		}
	}
	return u
}

func (h *Handler) popupCommand(s *service.MapSession, p *service.Popup) (Command, bool) {
	html, err := h.Renderer.Render("popup", p)
	if err != nil {
		h.log.Error("render popup", zap.String("session", s.ID()), zap.Error(err))
		return Command{}, false
	}
	return Command{CmdPopup, map[string]any{"lngLat": p.LngLat, "html": html}}, true
}

// resync rebuilds the page from the session's current state: every filter
// and visibility, all feature state (cleared first, per source), the
// cursor, the popup and the panel signals.
func (h *Handler) resync(s *service.MapSession) Update {
	u := Update{Signals: panelSignals(s)}

	var visible, hidden []string
	for _, l := range s.Layers() {
		u.Commands = append(u.Commands, Command{CmdFilter, service.LayerFilter{Layer: l.ID, Filter: l.Filter}})
		if l.Visibility() == style.Hidden {
			hidden = append(hidden, l.ID)
		} else {
			visible = append(visible, l.ID)
		}
	}
	if len(visible) > 0 {
		u.Commands = append(u.Commands, Command{CmdVisibility, service.LayerVisibility{Layers: visible, Visible: true}})
	}
	if len(hidden) > 0 {
		u.Commands = append(u.Commands, Command{CmdVisibility, service.LayerVisibility{Layers: hidden, Visible: false}})
	}

	sources := []string{}
	for _, src := range s.Sources() {
		sources = append(sources, src.Name)
	}
	states := s.FeatureStates()
	if states == nil {
		states = []service.FeatureStateChange{}
	}
	u.Commands = append(u.Commands,
		Command{CmdFeatureState, map[string]any{"reset": sources, "states": states}},
		Command{CmdCursor, map[string]any{"cursor": s.Cursor()}},
	)

	if p := s.Popup(); p != nil {
		if cmd, ok := h.popupCommand(s, p); ok {
			u.Commands = append(u.Commands, cmd)
		}
	} else {
		u.Commands = append(u.Commands, Command{CmdPopupClose, map[string]any{}})
	}
	return u
}

// pageSink receives what a change stream sends to the page.
type pageSink interface {
	Command(name string, detail any) error
	Signals(signals map[string]any)
	Error(msg string)
}

const expiredMessage = "Session expired, reload the page"

// follow writes a session's changes to out until ctx is done, the session
// ends or the client goes away. Every heartbeat keeps the session alive
// while the page is open. When the subscriber fell behind and changes were
// lost, the backlog is dropped and the page is resynced instead.
func (h *Handler) follow(ctx context.Context, s *service.MapSession, sub *service.Subscription, out pageSink) {
	// Sync first; the client sees this once the subscription is live.
	out.Signals(panelSignals(s))

	beat := time.NewTicker(h.heartbeat)
	defer beat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			out.Error(expiredMessage)
			return
		case <-beat.C:
			if _, err := h.sessions.Get(s.ID()); err != nil {
				out.Error(expiredMessage)
				return
			}
		case c, ok := <-sub.C():
			if !ok {
				return
			}
			if c.Kind == service.ChangeClosed {
				out.Error(expiredMessage)
				return
			}
			var u Update
			if sub.Lost() {
				if drain(sub) {
					out.Error(expiredMessage)
					return
				}
				h.log.Debug("change stream fell behind, resyncing", zap.String("session", s.ID()))
				u = h.resync(s)
			} else {
				u = h.translate(s, c)
			}
			for _, cmd := range u.Commands {
				if err := out.Command(cmd.Name, cmd.Detail); err != nil {
					h.log.Debug("event stream closed", zap.String("session", s.ID()), zap.Error(err))
					return
				}
			}
			if len(u.Signals) > 0 {
				out.Signals(u.Signals)
			}
		}
	}
}

// drain discards buffered changes and reports whether one of them closed
// the session.
func drain(sub *service.Subscription) (closed bool) {
	for {
		select {
		case c, ok := <-sub.C():
			if !ok {
				return closed
			}
			closed = closed || c.Kind == service.ChangeClosed
		default:
			return closed
		}
	}
}

// Events streams a session's changes to its page until the client goes
// away or the session ends.
func (h *Handler) Events(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if h.bus == nil {
		return nil, huma.Error503ServiceUnavailable("change stream is not configured")
	}
	return h.Stream(func(sse humastar.SSE) {
		sub := h.bus.Subscribe(s.ID())
		defer h.bus.Unsubscribe(sub)
		h.follow(ctx, s, sub, sse)
	}), nil
}
