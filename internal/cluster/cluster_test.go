package cluster

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Three points a few metres apart in downtown Toronto and one in Scarborough.
var points = []Point{
	{ID: 0, Coord: orb.Point{-79.3832, 43.6532}},
	{ID: 1, Coord: orb.Point{-79.3833, 43.6533}},
	{ID: 2, Coord: orb.Point{-79.3831, 43.6531}},
	{ID: 3, Coord: orb.Point{-79.2300, 43.7800}},
}

func TestCluster_GroupsNearbyPoints(t *testing.T) {
	res := Cluster(points, 10, Options{Radius: 50, MaxZoom: 14, IDBase: 100})

	require.Len(t, res.Aggregates, 1)
	agg := res.Aggregates[0]
	assert.Equal(t, 3, agg.Count)
	assert.Equal(t, []int64{0, 1, 2}, agg.Members)
	assert.Equal(t, int64(100), agg.ID)
	assert.InDelta(t, -79.3832, agg.Center[0], 1e-3)
	assert.InDelta(t, 43.6532, agg.Center[1], 1e-3)

	require.Len(t, res.Singles, 1)
	assert.Equal(t, int64(3), res.Singles[0].ID)
}

func TestCluster_AboveMaxZoom(t *testing.T) {
	res := Cluster(points, 15, Options{Radius: 50, MaxZoom: 14})
	assert.Empty(t, res.Aggregates)
	assert.Len(t, res.Singles, len(points))
}

func TestCluster_EveryPointAccountedOnce(t *testing.T) {
	for _, z := range []float64{0, 5, 9, 12, 14} {
		res := Cluster(points, z, Options{Radius: 50, MaxZoom: 14})
		seen := map[int64]int{}
		for _, a := range res.Aggregates {
			for _, id := range a.Members {
				seen[id]++
			}
		}
		for _, s := range res.Singles {
			seen[s.ID]++
		}
		assert.Len(t, seen, len(points), "zoom %v", z)
		for id, n := range seen {
			assert.Equal(t, 1, n, "point %d at zoom %v", id, z)
		}
	}
}

func TestAggregateProperties(t *testing.T) {
	p := Aggregate{ID: 7, Count: 1234}.Properties()
	assert.Equal(t, true, p[PropCluster])
	assert.Equal(t, 1234.0, p[PropPointCount])
	assert.Equal(t, "1.2k", p[PropPointCountAbv])
	assert.Equal(t, 7.0, p[PropClusterID])
}

func TestAbbreviate(t *testing.T) {
	assert.Equal(t, "7", Abbreviate(7))
	assert.Equal(t, "999", Abbreviate(999))
	assert.Equal(t, "1k", Abbreviate(1000))
	assert.Equal(t, "1.5k", Abbreviate(1490))
	assert.Equal(t, "15k", Abbreviate(15200))
}
