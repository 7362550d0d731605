// Package dispatch owns the working set of orders and riders and applies
// every operator action and timer tick to it.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"riderdispatch/internal/batch"
	"riderdispatch/internal/fleet"
	"riderdispatch/internal/model"
	"riderdispatch/internal/sla"
)

// Archive receives orders evicted from the working set once delivered.
type Archive interface {
	AppendHistory(ctx context.Context, orders []model.Order) error
}

type Config struct {
	Depot            model.GeoPoint
	MaxBatchSize     int
	MaxClusterSize   int
	ReleaseThreshold time.Duration
	Estimator        fleet.Estimator

	Notifier Notifier
	Archive  Archive
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

const (
	defaultMaxBatchSize   = 3
	defaultMaxClusterSize = 5
)

// Scheduler is the single owner of dispatch state. Every exported method is
// atomic with respect to the others.
type Scheduler struct {
	cfg Config

	mu     sync.Mutex
	orders map[int64]*model.Order
	byExt  map[string]int64
	nextID int64
	pool   *fleet.Pool
}

func New(cfg Config) *Scheduler {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	cfg.MaxBatchSize = min(cfg.MaxBatchSize, batch.MaxSize)
	if cfg.MaxClusterSize <= 0 {
		cfg.MaxClusterSize = defaultMaxClusterSize
	}
	if cfg.ReleaseThreshold <= 0 {
		cfg.ReleaseThreshold = fleet.DefaultReleaseThreshold
	}
	if cfg.Estimator == (fleet.Estimator{}) {
		cfg.Estimator = fleet.DefaultEstimator()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		cfg:    cfg,
		orders: map[int64]*model.Order{},
		byExt:  map[string]int64{},
		nextID: 1,
		pool:   fleet.NewPool(),
	}
}

// Depot returns the configured depot coordinate.
func (s *Scheduler) Depot() model.GeoPoint { return s.cfg.Depot }

// Now reads the scheduler clock.
func (s *Scheduler) Now() time.Time { return s.cfg.Now() }

// emit delivers events and, for a failed operation, a failure notice. It
// runs after the lock is released.
func (s *Scheduler) emit(ctx context.Context, op string, evs []model.Event, err error) {
	if err != nil {
		level := model.LevelError
		if isRejection(err) {
			level = model.LevelWarning
		}
		evs = append(evs, newEvent(model.EventOperationFailed, level, fmt.Sprintf("%s: %v", op, err), s.cfg.Now()))
	}
	if s.cfg.Notifier == nil {
		return
	}
	for _, e := range evs {
		s.cfg.Notifier.Notify(ctx, e)
	}
}

func (s *Scheduler) archive(ctx context.Context, delivered []model.Order) {
	if s.cfg.Archive == nil || len(delivered) == 0 {
		return
	}
	if err := s.cfg.Archive.AppendHistory(ctx, delivered); err != nil {
		log.Printf("req_id=%s op=archive orders=%d err=%v", RequestID(ctx), len(delivered), err)
	}
}

// ListOrders returns copies of the active orders in ID order, optionally
// filtered by status.
func (s *Scheduler) ListOrders(status model.OrderStatus) []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.cfg.Now()
	out := []model.Order{}
	for _, o := range s.sortedOrders() {
		if status == "" || o.Status == status {
			out = append(out, view(o, now))
		}
	}
	return out
}

func (s *Scheduler) GetOrder(id int64) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, notFound(id)
	}
	return view(o, s.cfg.Now()), nil
}

// view copies o for a reader and fills in its display level at now.
func view(o *model.Order, now time.Time) model.Order {
	c := *o.Clone()
	c.Level = string(sla.PriorityLevel(o.OrderTime, o.SLADeadline, now))
	return c
}

func (s *Scheduler) sortedOrders() []*model.Order {
	list := make([]*model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		list = append(list, o)
	}
	slices.SortFunc(list, func(a, b *model.Order) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return list
}

func (s *Scheduler) AddRider(ctx context.Context, name string) (r *model.Rider, err error) {
	defer timed(ctx, "add_rider")(&err)
	s.mu.Lock()
	r, err = s.pool.Add(name)
	s.mu.Unlock()
	if err != nil {
		err = invalid("name", "required")
	}
	s.emit(ctx, "add rider", nil, err)
	return r, err
}

func (s *Scheduler) ListRiders() []*model.Rider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.List()
}

func (s *Scheduler) GetRider(id string) (*model.Rider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Get(id)
}

// RemoveRider drops an available rider from the roster.
func (s *Scheduler) RemoveRider(ctx context.Context, id string) (err error) {
	defer timed(ctx, "remove_rider")(&err)
	s.mu.Lock()
	err = s.pool.Remove(id)
	s.mu.Unlock()
	s.emit(ctx, "remove rider", nil, err)
	return err
}

// Stats is a point-in-time count of the working set.
type Stats struct {
	Orders          map[model.OrderStatus]int
	RidersAvailable int
	RidersBusy      int
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Orders: map[model.OrderStatus]int{}}
	for _, o := range s.orders {
		st.Orders[o.Status]++
	}
	st.RidersAvailable = s.pool.Available()
	st.RidersBusy = len(s.pool.List()) - st.RidersAvailable
	return st
}

// Snapshot copies the working set for persistence.
func (s *Scheduler) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := model.Snapshot{NextID: s.nextID, SavedAt: s.cfg.Now()}
	for _, o := range s.sortedOrders() {
		snap.Orders = append(snap.Orders, *o.Clone())
	}
	for _, r := range s.pool.List() {
		snap.Riders = append(snap.Riders, *r)
	}
	return snap
}

// Restore replaces the working set with snap. Delivered orders in the
// snapshot are skipped. An out-for-delivery order whose rider is not busy
// carrying it goes back to selected. Nothing changes if the snapshot is
// inconsistent.
func (s *Scheduler) Restore(snap model.Snapshot) error {
	orders := map[int64]*model.Order{}
	byExt := map[string]int64{}
	next := max(snap.NextID, 1)
	for i := range snap.Orders {
		o := snap.Orders[i].Clone()
		o.Level = ""
		if o.Status == model.StatusDelivered {
			continue
		}
		if _, dup := orders[o.ID]; dup {
			return fmt.Errorf("restore: order id %d: %w", o.ID, ErrDuplicateExternalID)
		}
		if _, dup := byExt[o.ExternalOrderID]; dup {
			return fmt.Errorf("restore: %q: %w", o.ExternalOrderID, ErrDuplicateExternalID)
		}
		orders[o.ID] = o
		byExt[o.ExternalOrderID] = o.ID
		next = max(next, o.ID+1)
	}
	pool := fleet.NewPool()
	for i := range snap.Riders {
		pool.Restore(&snap.Riders[i])
	}
	for _, o := range orders {
		if o.Status == model.StatusOutForDelivery && !carried(pool, o) {
			backToSelected(o)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders, s.byExt, s.nextID, s.pool = orders, byExt, next, pool
	return nil
}

// carried reports whether o's assigned rider is busy with a trip that
// includes o.
func carried(pool *fleet.Pool, o *model.Order) bool {
	if o.AssignedRiderID == nil {
		return false
	}
	r, err := pool.Get(*o.AssignedRiderID)
	if err != nil || r.Status != model.RiderBusy || r.Assignment == nil {
		return false
	}
	return slices.Contains(r.Assignment.OrderIDs, o.ID)
}

// refreshPriority recomputes o's priority at now and reports a change.
func refreshPriority(o *model.Order, now time.Time) bool {
	p := sla.ComputePriority(o.OrderTime, o.SLADeadline, o.DistanceKm, now)
	if p == o.Priority {
		return false
	}
	o.Priority = p
	return true
}

func cloneAll(list []*model.Order) []model.Order {
	out := make([]model.Order, 0, len(list))
	for _, o := range list {
		out = append(out, *o.Clone())
	}
	return out
}

func ids(list []*model.Order) []int64 {
	out := make([]int64, 0, len(list))
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}
