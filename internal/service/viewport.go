package service

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-bikemap/internal/mercator"
)

// Zoom limits of the map.
const (
	MinZoom = 0.0
	MaxZoom = 22.0
)

// Toronto home view.
var (
	HomeViewport = Viewport{
		Center:  orb.Point{-79.3, 43.765},
		Zoom:    10,
		Bearing: -17.7,
	}
	TorontoBounds = orb.Bound{
		Min: orb.Point{-79.8, 43.4},
		Max: orb.Point{-78.8, 44},
	}
)

// ScreenSize is the map canvas size in CSS pixels. The zero value means the
// size is unknown.
type ScreenSize struct {
	Width  float64 `json:"width" minimum:"0"`
	Height float64 `json:"height" minimum:"0"`
}

func (s ScreenSize) known() bool { return s.Width > 0 && s.Height > 0 }

// ClampViewport keeps v inside bounds. Zoom is limited to [MinZoom, MaxZoom].
// With an unknown screen only the center is constrained. With a known screen
// the whole visible rectangle must fit: zoom is raised until the bounds
// cover the screen, then the center is pulled in so no edge crosses them.
// Bearing is ignored for the rectangle test.
func ClampViewport(v Viewport, bounds orb.Bound, screen ScreenSize) Viewport {
	v.Zoom = math.Max(MinZoom, math.Min(MaxZoom, v.Zoom))

	if !screen.known() {
		v.Center = orb.Point{
			clamp(v.Center[0], bounds.Min[0], bounds.Max[0]),
			clamp(v.Center[1], bounds.Min[1], bounds.Max[1]),
		}
		return v
	}

	nw, se := boundPixels(bounds, v.Zoom)
	w, h := se[0]-nw[0], se[1]-nw[1]
	if w < screen.Width || h < screen.Height {
		scale := math.Max(screen.Width/w, screen.Height/h)
		v.Zoom = math.Min(MaxZoom, v.Zoom+math.Log2(scale))
		nw, se = boundPixels(bounds, v.Zoom)
	}

	c := mercator.ToPixel(v.Center, v.Zoom)
	c[0] = clampSpan(c[0], nw[0]+screen.Width/2, se[0]-screen.Width/2)
	c[1] = clampSpan(c[1], nw[1]+screen.Height/2, se[1]-screen.Height/2)
	v.Center = mercator.FromPixel(c, v.Zoom)
	return v
}

// boundPixels returns the north-west and south-east corners of b in world
// pixels at zoom z.
func boundPixels(b orb.Bound, z float64) (orb.Point, orb.Point) {
	nw := mercator.ToPixel(orb.Point{b.Min[0], b.Max[1]}, z)
	se := mercator.ToPixel(orb.Point{b.Max[0], b.Min[1]}, z)
	return nw, se
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// clampSpan is clamp that centres x when the span is inverted.
func clampSpan(x, lo, hi float64) float64 {
	if lo > hi {
		return (lo + hi) / 2
	}
	return clamp(x, lo, hi)
}

// FitZoom returns the zoom at which b fills screen, or fallback when the
// screen size is unknown or b is degenerate.
func FitZoom(b orb.Bound, screen ScreenSize, fallback float64) float64 {
	if !screen.known() {
		return fallback
	}
	nw, se := boundPixels(b, 0)
	w, h := se[0]-nw[0], se[1]-nw[1]
	if w <= 0 || h <= 0 {
		return fallback
	}
	z := math.Log2(math.Min(screen.Width/w, screen.Height/h))
	return clamp(z, MinZoom, MaxZoom)
}
