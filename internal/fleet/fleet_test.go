package fleet

import (
	"errors"
	"testing"
	"time"

	"riderdispatch/internal/model"
)

var now = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func near(d, want time.Duration) bool {
	diff := d - want
	return diff < time.Second && diff > -time.Second
}

func TestEstimator_Single(t *testing.T) {
	e := DefaultEstimator()
	// (5/25 + 0.25 + 0.17) * 1.15 = 0.713h
	want := time.Duration(0.713 * float64(time.Hour))
	if got := e.Single(5); !near(got, want) {
		t.Fatalf("single(5) = %v, want %v", got, want)
	}
	if e.Single(10) <= e.Single(5) {
		t.Fatalf("estimate should grow with distance")
	}
}

func TestEstimator_Batch(t *testing.T) {
	e := DefaultEstimator()
	// (4.2*10/60 + 3*10/60) * 1.15 = (0.7 + 0.5) * 1.15 = 1.38h
	want := time.Duration(1.38 * float64(time.Hour))
	if got := e.Batch(10, 3); !near(got, want) {
		t.Fatalf("batch(10,3) = %v, want %v", got, want)
	}
	e.BatchBuffer = 1.05
	want = time.Duration(1.26 * float64(time.Hour))
	if got := e.Batch(10, 3); !near(got, want) {
		t.Fatalf("batch with 1.05 buffer = %v, want %v", got, want)
	}
}

func TestPool_AssignBusyRejected(t *testing.T) {
	p := NewPool()
	r, err := p.Add("Asha")
	if err != nil {
		t.Fatal(err)
	}
	a := model.Assignment{Kind: model.AssignSingle, OrderIDs: []int64{1}}
	got, err := p.Assign(r.ID, a, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Status != model.RiderBusy || got.ExpectedFreeTime == nil || !got.ExpectedFreeTime.Equal(now.Add(30*time.Minute)) {
		t.Fatalf("rider after assign = %+v", got)
	}

	before, _ := p.Get(r.ID)
	_, err = p.Assign(r.ID, model.Assignment{Kind: model.AssignSingle, OrderIDs: []int64{2}}, now, time.Hour)
	if !errors.Is(err, ErrRiderBusy) {
		t.Fatalf("err = %v, want ErrRiderBusy", err)
	}
	after, _ := p.Get(r.ID)
	if after.Assignment.OrderIDs[0] != 1 || !after.ExpectedFreeTime.Equal(*before.ExpectedFreeTime) {
		t.Fatalf("busy rider was modified: %+v", after)
	}
}

func TestPool_UnknownRider(t *testing.T) {
	p := NewPool()
	if _, err := p.Get("nope"); !errors.Is(err, ErrRiderNotFound) {
		t.Fatalf("get err = %v", err)
	}
	if _, err := p.Assign("nope", model.Assignment{}, now, 0); !errors.Is(err, ErrRiderNotFound) {
		t.Fatalf("assign err = %v", err)
	}
	if _, err := p.Add("  "); err == nil {
		t.Fatalf("blank name accepted")
	}
}

func TestPool_SweepThresholdAndIdempotence(t *testing.T) {
	p := NewPool()
	soon, _ := p.Add("soon")
	later, _ := p.Add("later")
	idle, _ := p.Add("idle")
	p.Assign(soon.ID, model.Assignment{Kind: model.AssignSingle, OrderIDs: []int64{1}}, now, 14*time.Minute)
	p.Assign(later.ID, model.Assignment{Kind: model.AssignBatch, OrderIDs: []int64{2, 3}}, now, 15*time.Minute)

	rel := p.Sweep(now, DefaultReleaseThreshold)
	if len(rel) != 1 || rel[0].RiderID != soon.ID || rel[0].Assignment.OrderIDs[0] != 1 {
		t.Fatalf("first sweep released %+v", rel)
	}
	if again := p.Sweep(now, DefaultReleaseThreshold); len(again) != 0 {
		t.Fatalf("second sweep released %+v", again)
	}
	r, _ := p.Get(soon.ID)
	if r.Status != model.RiderAvailable || r.Assignment != nil || r.ExpectedFreeTime != nil {
		t.Fatalf("released rider not cleared: %+v", r)
	}
	if r, _ := p.Get(idle.ID); r.Status != model.RiderAvailable {
		t.Fatalf("idle rider touched")
	}
	if p.Available() != 2 {
		t.Fatalf("available = %d", p.Available())
	}

	rel = p.Sweep(now.Add(time.Minute), DefaultReleaseThreshold)
	if len(rel) != 1 || rel[0].RiderID != later.ID {
		t.Fatalf("later sweep released %+v", rel)
	}
}

func TestPool_DetachAndRelease(t *testing.T) {
	p := NewPool()
	r, _ := p.Add("Ben")
	p.Assign(r.ID, model.Assignment{Kind: model.AssignBatch, OrderIDs: []int64{4, 5}}, now, time.Hour)
	if p.Detach(r.ID, 4) {
		t.Fatalf("assignment reported empty with one order left")
	}
	if !p.Detach(r.ID, 5) {
		t.Fatalf("assignment should be empty")
	}
	a, err := p.Release(r.ID)
	if err != nil || a == nil {
		t.Fatalf("release = %v, %v", a, err)
	}
	if a, _ := p.Release(r.ID); a != nil {
		t.Fatalf("second release returned %+v", a)
	}
}

func TestPool_RestoreKeepsOrderAndState(t *testing.T) {
	p := NewPool()
	free := now.Add(time.Hour)
	p.Restore(&model.Rider{ID: "r1", Name: "One", Status: model.RiderBusy, ExpectedFreeTime: &free,
		Assignment: &model.Assignment{Kind: model.AssignSingle, OrderIDs: []int64{9}}})
	p.Restore(&model.Rider{ID: "r2", Name: "Two", Status: model.RiderBusy})

	list := p.List()
	if len(list) != 2 || list[0].ID != "r1" || list[1].ID != "r2" {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Status != model.RiderBusy {
		t.Fatalf("busy rider lost state")
	}
	if list[1].Status != model.RiderAvailable {
		t.Fatalf("busy rider without free time should restore as available")
	}
	if err := p.Remove("r1"); !errors.Is(err, ErrRiderBusy) {
		t.Fatalf("remove busy err = %v", err)
	}
	if err := p.Remove("r2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
}
