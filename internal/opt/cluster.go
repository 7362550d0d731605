package opt

import (
	"math"
	"slices"

	"riderdispatch/internal/geo"
	"riderdispatch/internal/model"
)

// Greedy clustering parameters.
const (
	ceilingBaseKm       = 15.0
	ceilingFloor        = 0.3
	ceilingShrinkPerHop = 0.2
	// centroidPenalty is charged per km between a candidate and the current
	// cluster centroid.
	centroidPenalty = 0.3
)

// AcceptanceCeiling is the largest insertion cost accepted into a cluster
// that already holds size stops.
func AcceptanceCeiling(size int) float64 {
	return ceilingBaseKm * math.Max(ceilingFloor, 1-ceilingShrinkPerHop*float64(size))
}

// Cluster partitions stops into groups of at most maxSize. Each cluster is
// seeded by mode and grown by cheapest insertion into its partial round trip
// until the cap is hit or no candidate falls under the acceptance ceiling.
// Members are returned in their insertion-route order.
func Cluster(depot model.GeoPoint, stops []Stop, mode SeedMode, maxSize int) [][]Stop {
	if maxSize < 1 {
		maxSize = 1
	}
	left := append([]Stop(nil), stops...)
	slices.SortFunc(left, func(a, b Stop) int { return cmpInt64(a.OrderID, b.OrderID) })

	var out [][]Stop
	for len(left) > 0 {
		s := pickSeed(depot, left, mode)
		route := []Stop{left[s]}
		left = slices.Delete(left, s, s+1)

		for len(route) < maxSize && len(left) > 0 {
			centre := centroid(route)
			bestIdx, bestPos, bestCost := -1, 0, math.Inf(1)
			for i, cand := range left {
				marginal, pos := cheapestInsertion(depot, route, cand)
				c := marginal + centroidPenalty*geo.Distance(centre, cand.Location)
				if c < bestCost {
					bestIdx, bestPos, bestCost = i, pos, c
				}
			}
			if bestIdx < 0 || bestCost > AcceptanceCeiling(len(route)) {
				break
			}
			route = slices.Insert(route, bestPos, left[bestIdx])
			left = slices.Delete(left, bestIdx, bestIdx+1)
		}
		out = append(out, route)
	}
	return out
}

// cheapestInsertion returns the smallest increase in round-trip length from
// placing cand into route, and the position achieving it.
func cheapestInsertion(depot model.GeoPoint, route []Stop, cand Stop) (float64, int) {
	bestPos, best := 0, math.Inf(1)
	for pos := 0; pos <= len(route); pos++ {
		prev, next := depot, depot
		if pos > 0 {
			prev = route[pos-1].Location
		}
		if pos < len(route) {
			next = route[pos].Location
		}
		delta := geo.Distance(prev, cand.Location) + geo.Distance(cand.Location, next) - geo.Distance(prev, next)
		if delta < best {
			best, bestPos = delta, pos
		}
	}
	return best, bestPos
}

func centroid(route []Stop) model.GeoPoint {
	pts := make([]model.GeoPoint, len(route))
	for i, s := range route {
		pts[i] = s.Location
	}
	return geo.Centroid(pts)
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
