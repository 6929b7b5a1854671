// Package interact turns pointer events on map layers into session
// mutations: hover highlighting, popups and cursor changes.
package interact

import (
	"github.com/joeblew999/plat-bikemap/internal/service"
	"github.com/joeblew999/plat-bikemap/internal/style"
)

// HoverTracker highlights the feature under the pointer on one layer. It is
// either idle or hovering exactly one feature, so at most one feature of the
// source carries the hover flag.
//
// Trackers are driven through session handlers and inherit the session's
// serialisation; they are not safe for use on their own from several
// goroutines.
type HoverTracker struct {
	source   string
	current  service.FeatureID
	hovering bool
}

// NewHoverTracker tracks hover on features of source.
func NewHoverTracker(source string) *HoverTracker {
	return &HoverTracker{source: source}
}

// Hovered returns the highlighted feature, if any.
func (h *HoverTracker) Hovered() (service.FeatureID, bool) {
	return h.current, h.hovering
}

// Move highlights the topmost feature under the pointer. The previous
// feature is cleared in the same mutation, before the new one is set.
// Moving within the highlighted feature changes nothing.
func (h *HoverTracker) Move(ev service.PointerEvent) service.Mutation {
	if len(ev.Features) == 0 {
		return service.Mutation{}
	}
	next := ev.Features[0].ID
	if h.hovering && h.current == next {
		return service.Mutation{}
	}

	var m service.Mutation
	if h.hovering {
		m.States = append(m.States, h.change(h.current, false))
	}
	m.States = append(m.States, h.change(next, true))
	h.current, h.hovering = next, true
	return m
}

// Leave clears the highlight.
func (h *HoverTracker) Leave(service.PointerEvent) service.Mutation {
	if !h.hovering {
		return service.Mutation{}
	}
	m := service.Mutation{States: []service.FeatureStateChange{h.change(h.current, false)}}
	h.current, h.hovering = 0, false
	return m
}

func (h *HoverTracker) change(id service.FeatureID, on bool) service.FeatureStateChange {
	return service.FeatureStateChange{
		Source: h.source,
		ID:     id,
		State:  map[string]any{style.HoverState: on},
	}
}

// Cursor values.
const (
	CursorPointer = "pointer"
	CursorDefault = ""
)

// PointerCursor shows the pointer cursor over interactive features.
func PointerCursor(service.PointerEvent) service.Mutation {
	c := CursorPointer
	return service.Mutation{Cursor: &c}
}

// DefaultCursor restores the canvas cursor.
func DefaultCursor(service.PointerEvent) service.Mutation {
	c := CursorDefault
	return service.Mutation{Cursor: &c}
}
