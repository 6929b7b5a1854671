// Package cluster groups nearby point features into aggregates for display
// below a zoom threshold.
//
// Points are projected to Web Mercator pixels at the requested integer zoom
// and swept greedily in id order: each unassigned point claims every other
// unassigned point within Radius pixels. Groups of two or more become an
// Aggregate positioned at the members' pixel centroid; lone points pass
// through unchanged.
package cluster

import (
	"math"
	"sort"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-bikemap/internal/mercator"
)

// Property names attached to aggregate features.
const (
	PropCluster       = "cluster"
	PropClusterID     = "cluster_id"
	PropPointCount    = "point_count"
	PropPointCountAbv = "point_count_abbreviated"
)

// Options control clustering.
type Options struct {
	Radius  float64 // pixel radius for grouping
	MaxZoom int     // no clustering above this zoom
	IDBase  int64   // first aggregate id
}

// Point is an input point feature.
type Point struct {
	ID    int64
	Coord orb.Point
}

// Aggregate is a derived group of nearby points.
type Aggregate struct {
	ID      int64
	Center  orb.Point
	Count   int
	Members []int64
}

// Properties returns the feature properties exposed to styling.
func (a Aggregate) Properties() map[string]any {
	return map[string]any{
		PropCluster:       true,
		PropClusterID:     float64(a.ID),
		PropPointCount:    float64(a.Count),
		PropPointCountAbv: Abbreviate(a.Count),
	}
}

// Result is the outcome of clustering at one zoom.
type Result struct {
	Aggregates []Aggregate
	Singles    []Point
}

// Cluster groups points at zoom. Zooms above opts.MaxZoom return every point
// as a single.
func Cluster(points []Point, zoom float64, opts Options) Result {
	z := math.Floor(zoom)
	if z < 0 {
		z = 0
	}
	if int(z) > opts.MaxZoom || opts.Radius <= 0 || len(points) < 2 {
		return Result{Singles: append([]Point(nil), points...)}
	}

	sorted := append([]Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	px := make([]orb.Point, len(sorted))
	grid := make(map[[2]int][]int)
	for i, p := range sorted {
		px[i] = mercator.ToPixel(p.Coord, z)
		c := cell(px[i], opts.Radius)
		grid[c] = append(grid[c], i)
	}

	assigned := make([]bool, len(sorted))
	r2 := opts.Radius * opts.Radius
	var res Result
	for i := range sorted {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := []int{i}

		c := cell(px[i], opts.Radius)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for _, j := range grid[[2]int{c[0] + dx, c[1] + dy}] {
					if assigned[j] {
						continue
					}
					ddx, ddy := px[j][0]-px[i][0], px[j][1]-px[i][1]
					if ddx*ddx+ddy*ddy <= r2 {
						assigned[j] = true
						members = append(members, j)
					}
				}
			}
		}

		if len(members) == 1 {
			res.Singles = append(res.Singles, sorted[i])
			continue
		}

		var cx, cy float64
		ids := make([]int64, len(members))
		for k, m := range members {
			cx += px[m][0]
			cy += px[m][1]
			ids[k] = sorted[m].ID
		}
		n := float64(len(members))
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		res.Aggregates = append(res.Aggregates, Aggregate{
			ID:      opts.IDBase + int64(len(res.Aggregates)),
			Center:  mercator.FromPixel(orb.Point{cx / n, cy / n}, z),
			Count:   len(members),
			Members: ids,
		})
	}
	return res
}

func cell(p orb.Point, size float64) [2]int {
	return [2]int{int(math.Floor(p[0] / size)), int(math.Floor(p[1] / size))}
}

// Abbreviate formats a point count for cluster labels: 999, 1.2k, 15k.
func Abbreviate(n int) string {
	switch {
	case n >= 10000:
		return strconv.Itoa(int(math.Round(float64(n)/1000))) + "k"
	case n >= 1000:
		return strconv.FormatFloat(math.Round(float64(n)/100)/10, 'f', -1, 64) + "k"
	}
	return strconv.Itoa(n)
}
