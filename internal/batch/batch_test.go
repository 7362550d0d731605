package batch

import (
	"fmt"
	"testing"
	"time"

	"riderdispatch/internal/model"
	"riderdispatch/internal/sla"
)

var now = time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

func km(v float64) *float64 { return &v }

func newOrder(id int64, zone string, priority int, dist *float64) *model.Order {
	placed := now.Add(-30 * time.Minute)
	return &model.Order{
		ID:              id,
		ExternalOrderID: fmt.Sprintf("EXT-%d", id),
		OrderTime:       placed,
		Zone:            zone,
		DistanceKm:      dist,
		SLADeadline:     sla.ComputeSLADeadline(placed),
		Priority:        priority,
		Status:          model.StatusPending,
	}
}

func TestGroup(t *testing.T) {
	orders := []*model.Order{
		newOrder(1, "a", 50, nil),
		newOrder(2, " B ", 50, nil),
		newOrder(3, "Z", 50, nil),
		newOrder(4, "", 50, nil),
		newOrder(5, "A", 50, nil),
	}
	sel := newOrder(6, "A", 50, nil)
	sel.Status = model.StatusSelected
	orders = append(orders, sel)

	g := Group(orders)
	if len(g.ByZone["A"]) != 2 || len(g.ByZone["B"]) != 1 {
		t.Fatalf("unexpected grouping: %+v", g.ByZone)
	}
	if g.ByZone["A"][0].ID != 1 || g.ByZone["A"][1].ID != 5 {
		t.Fatalf("zone A order not preserved")
	}
	if len(g.Unmapped) != 2 {
		t.Fatalf("unmapped = %d, want 2", len(g.Unmapped))
	}
	if g.Eligible() != 3 {
		t.Fatalf("eligible = %d, want 3", g.Eligible())
	}
}

func TestBuild_SLAChunking(t *testing.T) {
	orders := []*model.Order{
		newOrder(1, "A", 50, nil),
		newOrder(2, "A", 90, nil),
		newOrder(3, "A", 70, nil),
	}
	batches := Build(Group(orders), 2, model.MaximizeSLA)
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	got := [][]int{}
	for _, b := range batches {
		row := []int{}
		for _, o := range b.Orders {
			row = append(row, o.Priority)
		}
		got = append(got, row)
	}
	if len(got[0]) != 2 || got[0][0] != 90 || got[0][1] != 70 || len(got[1]) != 1 || got[1][0] != 50 {
		t.Fatalf("batches = %v, want [[90 70] [50]]", got)
	}
}

func TestBuild_SizeBoundAndZonePurity(t *testing.T) {
	var orders []*model.Order
	zones := []string{"A", "B", "C", "d", "e", "X"}
	for i := int64(1); i <= 40; i++ {
		orders = append(orders, newOrder(i, zones[i%int64(len(zones))], int(40+i), km(float64(i%13))))
	}
	for _, size := range []int{1, 2, 3, 5, 8} {
		for _, strat := range []model.Strategy{model.MaximizeSLA, model.MaximizeOrders} {
			total := 0
			for _, b := range Build(Group(orders), size, strat) {
				if len(b.Orders) == 0 || len(b.Orders) > size {
					t.Fatalf("size %d: batch of %d", size, len(b.Orders))
				}
				z, ok := SharedZone(b.Orders)
				if !ok || z != b.Zone {
					t.Fatalf("batch not zone-pure: %+v", b.OrderIDs())
				}
				total += len(b.Orders)
			}
			if total != Group(orders).Eligible() {
				t.Fatalf("orders lost: %d batched", total)
			}
		}
	}
}

func TestSortOrders_SLATieBreaksOnDeadline(t *testing.T) {
	early := newOrder(1, "A", 60, nil)
	late := newOrder(2, "A", 60, nil)
	late.SLADeadline = early.SLADeadline.Add(time.Hour)
	list := []*model.Order{late, early}
	SortOrders(list, model.MaximizeSLA)
	if list[0].ID != 1 {
		t.Fatalf("earlier deadline should sort first, got %d", list[0].ID)
	}
}

func TestSortOrders_DistanceBand(t *testing.T) {
	list := []*model.Order{
		newOrder(1, "A", 40, km(5.0)),
		newOrder(2, "A", 90, km(5.6)),
		newOrder(3, "A", 99, km(9.0)),
		newOrder(4, "A", 99, nil),
		newOrder(5, "A", 10, km(1.0)),
	}
	SortOrders(list, model.MaximizeOrders)
	want := []int64{5, 2, 1, 3, 4}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("position %d: got %d, want %d (order %v)", i, list[i].ID, id, ids(list))
		}
	}
}

func ids(list []*model.Order) []int64 {
	out := []int64{}
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}

func TestScore_SLAComponents(t *testing.T) {
	a := newOrder(1, "A", 60, nil) // deadline 14:30, 1.5h away
	b := newOrder(2, "A", 80, nil)
	bt := &model.Batch{Zone: "A", Orders: []*model.Order{a, b}}
	// 10*2 + 50 + 5*70 + 15*2 + 5*2
	want := 20.0 + 50 + 350 + 30 + 10
	if got := Score(bt, model.MaximizeSLA, now); got != want {
		t.Fatalf("score = %v, want %v", got, want)
	}
}

func TestScore_OrdersComponents(t *testing.T) {
	bt := &model.Batch{Zone: "B", Orders: []*model.Order{
		newOrder(1, "B", 40, km(4)),
		newOrder(2, "B", 40, km(6)),
		newOrder(3, "B", 40, km(8)),
	}}
	// 10*3 + 50 + 2*(20-6) + 8*(3-2) + 5*3
	want := 30.0 + 50 + 28 + 8 + 15
	if got := Score(bt, model.MaximizeOrders, now); got != want {
		t.Fatalf("score = %v, want %v", got, want)
	}
}

func TestScore_CriticalDominates(t *testing.T) {
	crit := newOrder(1, "C", 10, km(25))
	crit.OrderTime = now.Add(-30 * time.Hour)
	crit.SLADeadline = now.Add(-5 * time.Hour)
	critical := &model.Batch{Zone: "C", Orders: []*model.Order{crit}}

	for _, strat := range []model.Strategy{model.MaximizeSLA, model.MaximizeOrders} {
		for size := 1; size <= MaxSize; size++ {
			var members []*model.Order
			for i := 0; i < size; i++ {
				o := newOrder(int64(10+i), "A", 120, km(0))
				o.SLADeadline = now.Add(30 * time.Minute)
				members = append(members, o)
			}
			normal := &model.Batch{Zone: "A", Orders: members}
			ranked := Rank([]*model.Batch{normal, critical}, strat, now)
			if ranked[0] != critical {
				t.Fatalf("%s size %d: critical %.0f did not outrank %.0f", strat, size, critical.Score, normal.Score)
			}
		}
	}
}

func TestRank_StableOnTies(t *testing.T) {
	first := &model.Batch{Zone: "A", Orders: []*model.Order{newOrder(1, "A", 50, nil)}}
	second := &model.Batch{Zone: "B", Orders: []*model.Order{newOrder(2, "B", 50, nil)}}
	ranked := Rank([]*model.Batch{first, second}, model.MaximizeSLA, now)
	if ranked[0] != first || ranked[1] != second {
		t.Fatalf("equal scores must keep generation order")
	}
}
