// Package mercator converts between WGS84 coordinates and Web Mercator world
// pixels at a given zoom, the space in which map viewports and cluster radii
// are measured.
package mercator

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// TileSize is the Mapbox GL tile extent in pixels.
const TileSize = 512.0

// MaxLatitude is the Web Mercator latitude limit.
const MaxLatitude = 85.051128779806604

// halfCircumference of the WGS84 ellipsoid in Mercator meters.
const halfCircumference = math.Pi * 6378137.0

// WorldSize is the width of the world in pixels at zoom z.
func WorldSize(z float64) float64 {
	return TileSize * math.Exp2(z)
}

// ToPixel projects p to world pixels at zoom z. The origin is the top-left
// (north-west) corner of the world.
func ToPixel(p orb.Point, z float64) orb.Point {
	p[1] = math.Max(-MaxLatitude, math.Min(MaxLatitude, p[1]))
	m := project.WGS84.ToMercator(p)
	size := WorldSize(z)
	return orb.Point{
		(m[0] + halfCircumference) / (2 * halfCircumference) * size,
		(halfCircumference - m[1]) / (2 * halfCircumference) * size,
	}
}

// FromPixel is the inverse of ToPixel.
func FromPixel(px orb.Point, z float64) orb.Point {
	size := WorldSize(z)
	m := orb.Point{
		px[0]/size*2*halfCircumference - halfCircumference,
		halfCircumference - px[1]/size*2*halfCircumference,
	}
	return project.Mercator.ToWGS84(m)
}
