package dispatch

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"riderdispatch/internal/geo"
	"riderdispatch/internal/model"
	"riderdispatch/internal/sla"
)

// CreateOrder validates and inserts a pending order. The SLA deadline and
// priority are derived here; a missing distance is resolved later through
// ResolveLocation or SetDistance.
func (s *Scheduler) CreateOrder(ctx context.Context, req model.CreateOrderRequest) (out model.Order, err error) {
	defer timed(ctx, "create_order")(&err)
	now := s.cfg.Now()

	s.mu.Lock()
	o, err := s.createLocked(req, now)
	if err == nil {
		out = *o.Clone()
	}
	s.mu.Unlock()

	var evs []model.Event
	if err == nil {
		e := newEvent(model.EventOrderCreated, model.LevelSuccess,
			fmt.Sprintf("order %s added to zone %s", out.ExternalOrderID, displayZone(out.Zone)), now)
		e.OrderIDs = []int64{out.ID}
		e.Orders = []model.Order{out}
		evs = append(evs, e)
	}
	s.emit(ctx, "create order", evs, err)
	return out, err
}

func (s *Scheduler) createLocked(req model.CreateOrderRequest, now time.Time) (*model.Order, error) {
	ext := strings.TrimSpace(req.ExternalOrderID)
	if ext == "" {
		return nil, invalid("externalOrderId", "required")
	}
	if req.OrderTime == nil || req.OrderTime.IsZero() {
		return nil, invalid("orderTime", "required")
	}
	if d := req.DistanceKm; d != nil && (*d < 0 || math.IsNaN(*d) || math.IsInf(*d, 0)) {
		return nil, invalid("distanceFromDepot", "must be a non-negative number")
	}
	if req.Location != nil && !geo.Valid(*req.Location) {
		return nil, invalid("location", "coordinates out of range")
	}
	if _, dup := s.byExt[ext]; dup {
		return nil, fmt.Errorf("create order %q: %w", ext, ErrDuplicateExternalID)
	}

	zone := strings.TrimSpace(req.Zone)
	if z, ok := model.NormalizeZone(zone); ok {
		zone = string(z)
	}
	o := &model.Order{
		ID:              s.nextID,
		ExternalOrderID: ext,
		OrderTime:       *req.OrderTime,
		Zone:            zone,
		LocationKey:     strings.TrimSpace(req.LocationKey),
		Status:          model.StatusPending,
	}
	o.SLADeadline = sla.ComputeSLADeadline(o.OrderTime)
	if req.DistanceKm != nil {
		d := *req.DistanceKm
		o.DistanceKm = &d
	}
	if req.Location != nil {
		s.place(o, *req.Location, req.DistanceKm == nil)
	}
	o.Priority = sla.ComputePriority(o.OrderTime, o.SLADeadline, o.DistanceKm, now)

	s.nextID++
	s.orders[o.ID] = o
	s.byExt[ext] = o.ID
	return o, nil
}

// place records coordinates and, when asked, the depot distance derived
// from them.
func (s *Scheduler) place(o *model.Order, p model.GeoPoint, setDistance bool) {
	lat, lng := p.Lat, p.Lng
	o.Lat, o.Lng = &lat, &lng
	if setDistance {
		d := geo.Distance(s.cfg.Depot, p)
		o.DistanceKm = &d
	}
}

// ImportRejection explains why one row of a bulk import was skipped.
type ImportRejection struct {
	Row             int    `json:"row"`
	ExternalOrderID string `json:"externalOrderId,omitempty"`
	Reason          string `json:"reason"`
}

type ImportResult struct {
	Created  []model.Order     `json:"created"`
	Rejected []ImportRejection `json:"rejected"`
}

// ImportOrders creates each row independently; a rejected row leaves the
// others unaffected. Rows are numbered from 1.
func (s *Scheduler) ImportOrders(ctx context.Context, rows []model.CreateOrderRequest) (res ImportResult, err error) {
	defer timed(ctx, "import_orders")(&err)
	now := s.cfg.Now()
	res = ImportResult{Created: []model.Order{}, Rejected: []ImportRejection{}}

	s.mu.Lock()
	for i, req := range rows {
		o, rerr := s.createLocked(req, now)
		if rerr != nil {
			res.Rejected = append(res.Rejected, ImportRejection{Row: i + 1, ExternalOrderID: req.ExternalOrderID, Reason: rerr.Error()})
			continue
		}
		res.Created = append(res.Created, *o.Clone())
	}
	s.mu.Unlock()

	level := model.LevelSuccess
	if len(res.Rejected) > 0 {
		level = model.LevelWarning
	}
	e := newEvent(model.EventOrderCreated, level,
		fmt.Sprintf("imported %d orders, %d rejected", len(res.Created), len(res.Rejected)), now)
	for _, o := range res.Created {
		e.OrderIDs = append(e.OrderIDs, o.ID)
	}
	e.Orders = res.Created
	s.emit(ctx, "import orders", []model.Event{e}, nil)
	return res, nil
}

// ResolveLocation sets the coordinate and depot distance of every pending
// order matching key, then recomputes their priorities. key matches an
// external order ID, a zone code or an order's location key. Repeating a
// call with the same arguments leaves the same state.
func (s *Scheduler) ResolveLocation(ctx context.Context, key string, p model.GeoPoint) (updated []model.Order, err error) {
	defer timed(ctx, "resolve_location")(&err)
	key = strings.TrimSpace(key)
	if key == "" {
		err = invalid("key", "required")
	} else if !geo.Valid(p) {
		err = invalid("location", "coordinates out of range")
	}
	if err != nil {
		s.emit(ctx, "resolve location", nil, err)
		return nil, err
	}
	now := s.cfg.Now()

	s.mu.Lock()
	var hit []*model.Order
	for _, o := range s.sortedOrders() {
		if o.Status != model.StatusPending || !matchesKey(o, key) {
			continue
		}
		s.place(o, p, true)
		o.Priority = sla.ComputePriority(o.OrderTime, o.SLADeadline, o.DistanceKm, now)
		hit = append(hit, o)
	}
	updated = cloneAll(hit)
	s.mu.Unlock()

	var evs []model.Event
	if len(updated) > 0 {
		e := newEvent(model.EventOrderUpdated, model.LevelInfo,
			fmt.Sprintf("location %q resolved for %d orders", key, len(updated)), now)
		e.OrderIDs = ids(hit)
		e.Orders = updated
		evs = append(evs, e)
	}
	s.emit(ctx, "resolve location", evs, nil)
	return updated, nil
}

func matchesKey(o *model.Order, key string) bool {
	if o.ExternalOrderID == key {
		return true
	}
	if o.LocationKey != "" && strings.EqualFold(o.LocationKey, key) {
		return true
	}
	if z, ok := model.NormalizeZone(key); ok {
		oz, _ := model.NormalizeZone(o.Zone)
		return oz == z
	}
	return false
}

// SetDistance overrides an order's depot distance and recomputes its
// priority.
func (s *Scheduler) SetDistance(ctx context.Context, id int64, km float64) (out model.Order, err error) {
	defer timed(ctx, "set_distance")(&err)
	now := s.cfg.Now()

	s.mu.Lock()
	o, ok := s.orders[id]
	switch {
	case km < 0 || math.IsNaN(km) || math.IsInf(km, 0):
		err = invalid("distanceFromDepot", "must be a non-negative number")
	case !ok:
		err = notFound(id)
	default:
		d := km
		o.DistanceKm = &d
		o.Priority = sla.ComputePriority(o.OrderTime, o.SLADeadline, o.DistanceKm, now)
		out = *o.Clone()
	}
	s.mu.Unlock()

	var evs []model.Event
	if err == nil {
		e := newEvent(model.EventOrderUpdated, model.LevelInfo,
			fmt.Sprintf("order %s is %.2f km from the depot", out.ExternalOrderID, km), now)
		e.OrderIDs = []int64{id}
		e.Orders = []model.Order{out}
		evs = append(evs, e)
	}
	s.emit(ctx, "set distance", evs, err)
	return out, err
}

// SelectOrder marks a pending order as picked for the next trip.
func (s *Scheduler) SelectOrder(ctx context.Context, id int64) (model.Order, error) {
	return s.transition(ctx, "select", id, model.StatusPending, func(o *model.Order, now time.Time) {
		o.Status = model.StatusSelected
		t := now
		o.SelectedAt = &t
	})
}

// CancelSelection returns a selected order to pending.
func (s *Scheduler) CancelSelection(ctx context.Context, id int64) (model.Order, error) {
	return s.transition(ctx, "cancel selection", id, model.StatusSelected, func(o *model.Order, _ time.Time) {
		o.Status = model.StatusPending
		o.SelectedAt = nil
	})
}

func (s *Scheduler) transition(ctx context.Context, op string, id int64, from model.OrderStatus, apply func(*model.Order, time.Time)) (out model.Order, err error) {
	defer timed(ctx, strings.ReplaceAll(op, " ", "_"))(&err)
	now := s.cfg.Now()

	s.mu.Lock()
	o, ok := s.orders[id]
	switch {
	case !ok:
		err = notFound(id)
	case o.Status != from:
		err = &TransitionError{OrderID: id, Op: op, From: o.Status}
	default:
		apply(o, now)
		out = *o.Clone()
	}
	s.mu.Unlock()

	var evs []model.Event
	if err == nil {
		e := newEvent(model.EventOrderUpdated, model.LevelSuccess,
			fmt.Sprintf("order %s is now %s", out.ExternalOrderID, out.Status), now)
		e.OrderIDs = []int64{id}
		e.Orders = []model.Order{out}
		evs = append(evs, e)
	}
	s.emit(ctx, op, evs, err)
	return out, err
}

// RemoveOrder hard-deletes an order in any state. If it was out with a rider
// whose trip is left empty, the rider is freed.
func (s *Scheduler) RemoveOrder(ctx context.Context, id int64) (err error) {
	defer timed(ctx, "remove_order")(&err)
	now := s.cfg.Now()

	s.mu.Lock()
	o, ok := s.orders[id]
	var freed string
	if !ok {
		err = notFound(id)
	} else {
		delete(s.orders, id)
		delete(s.byExt, o.ExternalOrderID)
		if o.AssignedRiderID != nil && s.pool.Detach(*o.AssignedRiderID, id) {
			if _, rerr := s.pool.Release(*o.AssignedRiderID); rerr == nil {
				freed = *o.AssignedRiderID
			}
		}
	}
	s.mu.Unlock()

	var evs []model.Event
	if err == nil {
		e := newEvent(model.EventOrderRemoved, model.LevelInfo, fmt.Sprintf("order %s removed", o.ExternalOrderID), now)
		e.OrderIDs = []int64{id}
		evs = append(evs, e)
		if freed != "" {
			r := newEvent(model.EventRiderReleased, model.LevelInfo, "rider freed: trip has no orders left", now)
			r.RiderID = freed
			evs = append(evs, r)
		}
	}
	s.emit(ctx, "remove order", evs, err)
	return err
}

func displayZone(z string) string {
	if z == "" {
		return "(none)"
	}
	return z
}
