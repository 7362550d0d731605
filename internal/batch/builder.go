package batch

import (
	"math"
	"slices"

	"riderdispatch/internal/model"
)

// MaxSize caps the batch size a caller may request. Above it the fixed
// scoring weights could let a large non-critical batch outrank a critical
// one.
const MaxSize = 20

// distanceTieKm is the band within which two distances are treated as equal
// when ordering by distance.
const distanceTieKm = 1.0

// SortOrders orders a zone's list in place for the given strategy.
//
// maximize_sla: priority descending, then earlier SLA deadline.
// maximize_orders: distance ascending, with distances within 1 km treated as
// a tie broken by priority descending. Orders without a distance sort last.
// Remaining ties keep ascending ID order.
func SortOrders(orders []*model.Order, strategy model.Strategy) {
	slices.SortStableFunc(orders, func(a, b *model.Order) int {
		if strategy == model.MaximizeOrders {
			if c := compareDistance(a, b); c != 0 {
				return c
			}
			if c := b.Priority - a.Priority; c != 0 {
				return c
			}
		} else {
			if c := b.Priority - a.Priority; c != 0 {
				return c
			}
			if c := a.SLADeadline.Compare(b.SLADeadline); c != 0 {
				return c
			}
		}
		return cmpInt64(a.ID, b.ID)
	})
}

func compareDistance(a, b *model.Order) int {
	da, db := distanceOrInf(a), distanceOrInf(b)
	if math.IsInf(da, 1) || math.IsInf(db, 1) {
		switch {
		case math.IsInf(da, 1) && math.IsInf(db, 1):
			return 0
		case math.IsInf(da, 1):
			return 1
		default:
			return -1
		}
	}
	if math.Abs(da-db) <= distanceTieKm {
		return 0
	}
	if da < db {
		return -1
	}
	return 1
}

func distanceOrInf(o *model.Order) float64 {
	if o.DistanceKm == nil {
		return math.Inf(1)
	}
	return *o.DistanceKm
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

// Build sorts each zone's orders and slices them into contiguous chunks of at
// most maxSize. Zones are visited in A..E order so generation order is
// deterministic. Each batch is zone-pure by construction.
func Build(g Groups, maxSize int, strategy model.Strategy) []*model.Batch {
	maxSize = max(1, min(maxSize, MaxSize))
	var out []*model.Batch
	for _, z := range model.Zones {
		list := append([]*model.Order(nil), g.ByZone[z]...)
		if len(list) == 0 {
			continue
		}
		SortOrders(list, strategy)
		for start := 0; start < len(list); start += maxSize {
			end := min(start+maxSize, len(list))
			out = append(out, &model.Batch{
				Zone:     z,
				Orders:   list[start:end:end],
				Strategy: strategy,
			})
		}
	}
	return out
}

// SharedZone returns the zone every member shares, if any.
func SharedZone(orders []*model.Order) (model.Zone, bool) {
	if len(orders) == 0 {
		return "", false
	}
	first, ok := model.NormalizeZone(orders[0].Zone)
	if !ok {
		return "", false
	}
	for _, o := range orders[1:] {
		if z, _ := model.NormalizeZone(o.Zone); z != first {
			return "", false
		}
	}
	return first, true
}
