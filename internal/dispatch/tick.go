package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"riderdispatch/internal/model"
)

// TickReport summarises one timer pass.
type TickReport struct {
	Released  []string      `json:"releasedRiders"`
	Delivered []model.Order `json:"delivered"`
	Refreshed int           `json:"refreshed"`
}

// Tick frees riders due back within the release threshold, delivers what
// they carried and then refreshes the priority of every remaining order.
// The whole pass runs under one lock, so no reader sees a half-swept state.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (rep TickReport, err error) {
	defer timed(ctx, "tick")(&err)

	s.mu.Lock()
	var changed []*model.Order
	var evs []model.Event
	for _, rel := range s.pool.Sweep(now, s.cfg.ReleaseThreshold) {
		delivered := s.cascadeLocked(rel, now)
		rep.Released = append(rep.Released, rel.RiderID)
		rep.Delivered = append(rep.Delivered, delivered...)
		evs = append(evs, s.releaseEvents(rel.RiderID, delivered, "rider due back at depot", now)...)
	}
	for _, o := range s.sortedOrders() {
		if refreshPriority(o, now) {
			changed = append(changed, o)
		}
	}
	rep.Refreshed = len(changed)
	if len(changed) > 0 {
		e := newEvent(model.EventOrderUpdated, model.LevelInfo, fmt.Sprintf("%d priorities refreshed", len(changed)), now)
		e.OrderIDs = ids(changed)
		e.Orders = cloneAll(changed)
		evs = append(evs, e)
	}
	s.mu.Unlock()

	s.archive(ctx, rep.Delivered)
	s.emit(ctx, "tick", evs, nil)
	return rep, nil
}

// Saver persists scheduler snapshots.
type Saver interface {
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error
}

// Ticker drives Tick on a fixed interval and saves a snapshot after each
// pass.
type Ticker struct {
	Scheduler *Scheduler
	Store     Saver
	Interval  time.Duration
	Stop      chan struct{}
	// OnTick, if set, is called after every pass.
	OnTick func(TickReport)
}

func NewTicker(s *Scheduler, store Saver, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Ticker{Scheduler: s, Store: store, Interval: interval, Stop: make(chan struct{})}
}

func (t *Ticker) Start() {
	go func() {
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.Stop:
				return
			case <-ticker.C:
				t.processOnce()
			}
		}
	}()
}

func (t *Ticker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rep, _ := t.Scheduler.Tick(ctx, t.Scheduler.cfg.Now())
	if t.Store != nil {
		if err := t.Store.SaveSnapshot(ctx, t.Scheduler.Snapshot()); err != nil {
			log.Printf("op=save_snapshot err=%v", err)
		}
	}
	if t.OnTick != nil {
		t.OnTick(rep)
	}
}
