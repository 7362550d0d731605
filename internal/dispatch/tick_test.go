package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"riderdispatch/internal/model"
)

func TestEndToEnd_SweepDeliversOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "EXT-1", "A", t0, km(0))
	r := f.rider(t, "Asha")
	res, err := f.s.AssignRider(ctx, r.ID, AssignTarget{OrderIDs: []int64{o.ID}})
	if err != nil || !res.OK {
		t.Fatalf("assign = %+v, %v", res, err)
	}

	// expected back in ten minutes
	now := res.Rider.ExpectedFreeTime.Add(-10 * time.Minute)
	f.clock.Advance(now.Sub(t0))
	rep, err := f.s.Tick(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Released) != 1 || rep.Released[0] != r.ID || len(rep.Delivered) != 1 {
		t.Fatalf("tick = %+v", rep)
	}
	if d := rep.Delivered[0]; d.Status != model.StatusDelivered || !d.DeliveredAt.Equal(now) {
		t.Fatalf("delivered = %+v", d)
	}
	if rr, _ := f.s.GetRider(r.ID); rr.Status != model.RiderAvailable || rr.ExpectedFreeTime != nil {
		t.Fatalf("rider = %+v", rr)
	}
	if _, err := f.s.GetOrder(o.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("delivered order still active")
	}
	if len(f.archive.orders) != 1 {
		t.Fatalf("history = %d", len(f.archive.orders))
	}
}

func TestTick_NotDueYet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "EXT-1", "A", t0, km(10))
	r := f.rider(t, "Asha")
	f.s.AssignRider(ctx, r.ID, AssignTarget{OrderIDs: []int64{o.ID}})

	rep, _ := f.s.Tick(ctx, t0.Add(time.Minute))
	if len(rep.Released) != 0 {
		t.Fatalf("released too early: %+v", rep)
	}
}

func TestTick_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t, "EXT-1", "A", t0, km(0))
	f.order(t, "EXT-2", "B", t0.Add(-30*time.Minute), km(8))
	r := f.rider(t, "Asha")
	f.s.AssignRider(ctx, r.ID, AssignTarget{OrderIDs: []int64{o.ID}})

	later := t0.Add(2 * time.Hour)
	f.s.Tick(ctx, later)
	once := f.s.Snapshot()
	rep, _ := f.s.Tick(ctx, later)
	twice := f.s.Snapshot()
	if len(rep.Released) != 0 || len(rep.Delivered) != 0 || rep.Refreshed != 0 {
		t.Fatalf("second tick did work: %+v", rep)
	}
	if len(once.Orders) != len(twice.Orders) || once.Orders[0].Priority != twice.Orders[0].Priority {
		t.Fatalf("state diverged")
	}
}

func TestTick_RefreshesPriorities(t *testing.T) {
	f := newFixture(t)
	o := f.order(t, "EXT-1", "A", t0, km(20))
	if o.Priority != 40 {
		t.Fatalf("initial priority = %d", o.Priority)
	}
	rep, _ := f.s.Tick(context.Background(), t0.Add(95*time.Minute))
	got, _ := f.s.GetOrder(o.ID)
	if rep.Refreshed != 1 || got.Priority != 100 {
		t.Fatalf("refreshed %d, priority %d", rep.Refreshed, got.Priority)
	}
}

func TestReleaseRider_DeliversCarriedOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.order(t, "EXT-1", "A", t0, km(1))
	b := f.order(t, "EXT-2", "A", t0, km(1))
	r := f.rider(t, "Asha")
	f.s.AssignRider(ctx, r.ID, AssignTarget{OrderIDs: []int64{a.ID, b.ID}})

	delivered, err := f.s.ReleaseRider(ctx, r.ID)
	if err != nil || len(delivered) != 2 {
		t.Fatalf("release = %v, %v", delivered, err)
	}
	if len(f.s.ListOrders("")) != 0 {
		t.Fatalf("orders still active")
	}
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.order(t, "EXT-1", "A", t0, km(1))
	f.order(t, "EXT-2", "B", t0, nil)
	r := f.rider(t, "Asha")
	f.s.AssignRider(ctx, r.ID, AssignTarget{OrderIDs: []int64{a.ID}})
	snap := f.s.Snapshot()

	g := newFixture(t)
	if err := g.s.Restore(snap); err != nil {
		t.Fatal(err)
	}
	if len(g.s.ListOrders("")) != 2 || len(g.s.ListRiders()) != 1 {
		t.Fatalf("restore lost state")
	}
	if rr, _ := g.s.GetRider(r.ID); rr.Status != model.RiderBusy {
		t.Fatalf("busy rider restored as %s", rr.Status)
	}
	o := g.order(t, "EXT-3", "C", t0, nil)
	if o.ID != 3 {
		t.Fatalf("next id after restore = %d", o.ID)
	}

	bad := snap
	bad.Orders = append(bad.Orders, bad.Orders[0])
	if err := g.s.Restore(bad); err == nil {
		t.Fatalf("duplicate orders accepted")
	}
	if len(g.s.ListOrders("")) != 3 {
		t.Fatalf("failed restore changed state")
	}
}

type saver struct {
	mu    sync.Mutex
	snaps []model.Snapshot
}

func (s *saver) SaveSnapshot(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
	return nil
}

func TestTicker_ProcessOnceSaves(t *testing.T) {
	f := newFixture(t)
	f.order(t, "EXT-1", "A", t0, nil)
	sv := &saver{}
	tk := NewTicker(f.s, sv, time.Minute)
	ticked := 0
	tk.OnTick = func(TickReport) { ticked++ }
	tk.processOnce()
	if len(sv.snaps) != 1 || len(sv.snaps[0].Orders) != 1 || sv.snaps[0].NextID != 2 {
		t.Fatalf("snapshots = %+v", sv.snaps)
	}
	if ticked != 1 {
		t.Fatalf("OnTick called %d times", ticked)
	}
}

func TestRestore_OrphanedDeliveriesGoBackToSelected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.order(t, "EXT-1", "A", t0, km(1))
	b := f.order(t, "EXT-2", "B", t0, km(2))
	r := f.rider(t, "Asha")
	q := f.rider(t, "Ben")
	if res, err := f.s.AssignRider(ctx, r.ID, AssignTarget{OrderIDs: []int64{a.ID}}); err != nil || !res.OK {
		t.Fatalf("assign a: %+v %v", res, err)
	}
	if res, err := f.s.AssignRider(ctx, q.ID, AssignTarget{OrderIDs: []int64{b.ID}}); err != nil || !res.OK {
		t.Fatalf("assign b: %+v %v", res, err)
	}
	snap := f.s.Snapshot()
	var riders []model.Rider
	for _, sr := range snap.Riders {
		if sr.ID == r.ID {
			sr.ExpectedFreeTime = nil
			riders = append(riders, sr)
		}
	}
	// Ben is missing from the snapshot entirely.
	snap.Riders = riders

	g := newFixture(t)
	if err := g.s.Restore(snap); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{a.ID, b.ID} {
		o, err := g.s.GetOrder(id)
		if err != nil {
			t.Fatal(err)
		}
		if o.Status != model.StatusSelected || o.AssignedRiderID != nil || o.DeliveryStartedAt != nil || o.ExpectedReturnTime != nil {
			t.Fatalf("order %d after restore = %+v", id, o)
		}
	}
	rr, err := g.s.GetRider(r.ID)
	if err != nil || rr.Status != model.RiderAvailable {
		t.Fatalf("rider = %+v err=%v", rr, err)
	}
	if res, err := g.s.AssignRider(ctx, r.ID, AssignTarget{OrderIDs: []int64{a.ID}}); err != nil || !res.OK {
		t.Fatalf("reassign after restore: %+v %v", res, err)
	}
}
