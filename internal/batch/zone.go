// Package batch partitions pending orders into zone-pure, size-bounded
// delivery batches and ranks them.
package batch

import "riderdispatch/internal/model"

// Groups is the result of partitioning orders by zone.
type Groups struct {
	ByZone map[model.Zone][]*model.Order
	// Unmapped holds pending orders whose zone is not A..E. They stay in the
	// lifecycle but never enter a batch.
	Unmapped []*model.Order
}

// Group partitions the pending orders by normalized zone, preserving input
// order within each zone. Orders in any other status are ignored.
func Group(orders []*model.Order) Groups {
	g := Groups{ByZone: map[model.Zone][]*model.Order{}}
	for _, o := range orders {
		if o.Status != model.StatusPending {
			continue
		}
		z, ok := model.NormalizeZone(o.Zone)
		if !ok {
			g.Unmapped = append(g.Unmapped, o)
			continue
		}
		g.ByZone[z] = append(g.ByZone[z], o)
	}
	return g
}

// Eligible counts the orders that can be batched.
func (g Groups) Eligible() int {
	n := 0
	for _, list := range g.ByZone {
		n += len(list)
	}
	return n
}
