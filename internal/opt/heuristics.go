// Package opt sequences delivery stops into depot round trips and groups
// loose stops into compact clusters. Every length is the rounded haversine
// distance from package geo.
package opt

import (
	"time"

	"riderdispatch/internal/geo"
	"riderdispatch/internal/model"
)

// Stop is one order to visit.
type Stop struct {
	OrderID         int64
	ExternalOrderID string
	Location        model.GeoPoint
	SLADeadline     time.Time
}

// SeedMode picks the first stop of a route or cluster.
type SeedMode int

const (
	// SeedByDeadline starts from the stop with the least SLA time left.
	SeedByDeadline SeedMode = iota
	// SeedByDepot starts from the stop nearest the depot.
	SeedByDepot
)

// SeedFor maps a batching strategy onto its seed rule.
func SeedFor(s model.Strategy) SeedMode {
	if s == model.MaximizeOrders {
		return SeedByDepot
	}
	return SeedByDeadline
}

// minTwoOptStops is the smallest route 2-opt is run on.
const minTwoOptStops = 4

const improveEps = 1e-9

// Sequence builds a nearest-neighbour route from the seed stop and improves
// it with 2-opt. SeedKm reports the constructed length before improvement.
func Sequence(depot model.GeoPoint, stops []Stop, mode SeedMode) model.Route {
	r := model.Route{Depot: depot, Stops: []model.RouteStop{}}
	if len(stops) == 0 {
		return r
	}
	order := NearestNeighbor(depot, stops, mode)
	r.SeedKm = RouteLength(depot, order)
	if len(order) >= minTwoOptStops {
		order = TwoOpt(depot, order)
	}

	prev := depot
	total := 0.0
	for _, s := range order {
		leg := geo.Distance(prev, s.Location)
		total += leg
		r.Stops = append(r.Stops, model.RouteStop{
			OrderID:         s.OrderID,
			ExternalOrderID: s.ExternalOrderID,
			Location:        s.Location,
			SLADeadline:     s.SLADeadline,
			LegKm:           leg,
		})
		prev = s.Location
	}
	total += geo.Distance(prev, depot)
	r.TotalKm = geo.Round2(total)
	return r
}

// RouteLength is the round trip depot -> stops... -> depot.
func RouteLength(depot model.GeoPoint, order []Stop) float64 {
	if len(order) == 0 {
		return 0
	}
	total := geo.Distance(depot, order[0].Location)
	for i := 1; i < len(order); i++ {
		total += geo.Distance(order[i-1].Location, order[i].Location)
	}
	total += geo.Distance(order[len(order)-1].Location, depot)
	return geo.Round2(total)
}

// pickSeed returns the index of the seed stop. Ties go to the lower order ID.
func pickSeed(depot model.GeoPoint, stops []Stop, mode SeedMode) int {
	best := 0
	for i := 1; i < len(stops); i++ {
		a, b := stops[i], stops[best]
		var c int
		if mode == SeedByDepot {
			c = cmpFloat(geo.Distance(depot, a.Location), geo.Distance(depot, b.Location))
		} else {
			c = a.SLADeadline.Compare(b.SLADeadline)
		}
		if c < 0 || (c == 0 && a.OrderID < b.OrderID) {
			best = i
		}
	}
	return best
}

// NearestNeighbor starts at the seed and keeps appending the unrouted stop
// nearest the last one placed.
func NearestNeighbor(depot model.GeoPoint, stops []Stop, mode SeedMode) []Stop {
	left := append([]Stop(nil), stops...)
	out := make([]Stop, 0, len(stops))

	i := pickSeed(depot, left, mode)
	for {
		cur := left[i]
		out = append(out, cur)
		left = append(left[:i], left[i+1:]...)
		if len(left) == 0 {
			return out
		}
		i = 0
		bestD := geo.Distance(cur.Location, left[0].Location)
		for j := 1; j < len(left); j++ {
			d := geo.Distance(cur.Location, left[j].Location)
			if d < bestD || (d == bestD && left[j].OrderID < left[i].OrderID) {
				i, bestD = j, d
			}
		}
	}
}

// TwoOpt reverses sub-routes while any reversal strictly shortens the round
// trip, and returns the local optimum. The input is not modified.
func TwoOpt(depot model.GeoPoint, order []Stop) []Stop {
	best := append([]Stop(nil), order...)
	n := len(best)
	point := func(k int) model.GeoPoint {
		if k < 0 || k >= n {
			return depot
		}
		return best[k].Location
	}
	for improved := true; improved; {
		improved = false
		for i := 0; i < n-1; i++ {
			for j := i + 1; j < n; j++ {
				if i == 0 && j == n-1 {
					// whole-route reversal has the same length
					continue
				}
				a, b := point(i-1), point(i)
				c, d := point(j), point(j+1)
				delta := geo.Distance(a, c) + geo.Distance(b, d) - geo.Distance(a, b) - geo.Distance(c, d)
				if delta < -improveEps {
					twoOptSwap(best, i, j)
					improved = true
				}
			}
		}
	}
	return best
}

// twoOptSwap reverses ord[i..k] in place.
func twoOptSwap(ord []Stop, i, k int) {
	for ; i < k; i, k = i+1, k-1 {
		ord[i], ord[k] = ord[k], ord[i]
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
