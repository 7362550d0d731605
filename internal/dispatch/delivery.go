package dispatch

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"riderdispatch/internal/fleet"
	"riderdispatch/internal/geo"
	"riderdispatch/internal/model"
)

// AssignTarget names the orders a rider should take. One order is a single
// trip; more than one is a batch.
type AssignTarget struct {
	OrderIDs []int64
	BatchID  string
}

// AssignResult reports the outcome of AssignRider. OK is false with a
// Reason when the rider cannot take the work; the working set is unchanged
// in that case.
type AssignResult struct {
	OK     bool          `json:"ok"`
	Reason string        `json:"reason,omitempty"`
	Rider  *model.Rider  `json:"rider,omitempty"`
	Orders []model.Order `json:"orders,omitempty"`
	Route  *model.Route  `json:"route,omitempty"`
}

// AssignRider starts delivery of the target orders with riderID. Orders may
// be pending or selected; pending ones are selected on the way. A busy
// rider yields OK=false rather than an error.
func (s *Scheduler) AssignRider(ctx context.Context, riderID string, target AssignTarget) (res AssignResult, err error) {
	defer timed(ctx, "assign_rider")(&err)
	now := s.cfg.Now()

	s.mu.Lock()
	res, err = s.assignLocked(riderID, target, now)
	s.mu.Unlock()

	var evs []model.Event
	switch {
	case err != nil:
	case !res.OK:
		e := newEvent(model.EventOperationFailed, model.LevelWarning, res.Reason, now)
		e.RiderID = riderID
		e.OrderIDs = target.OrderIDs
		evs = append(evs, e)
	default:
		e := newEvent(model.EventRiderAssigned, model.LevelSuccess,
			fmt.Sprintf("%s is out with %d orders, back by %s", res.Rider.Name, len(res.Orders), expectedBy(res.Rider.ExpectedFreeTime)), now)
		e.RiderID = riderID
		e.OrderIDs = res.Rider.Assignment.OrderIDs
		e.Orders = res.Orders
		e.Route = res.Route
		evs = append(evs, e)
	}
	s.emit(ctx, "assign rider", evs, err)
	return res, err
}

func (s *Scheduler) assignLocked(riderID string, target AssignTarget, now time.Time) (AssignResult, error) {
	rider, err := s.pool.Get(riderID)
	if err != nil {
		return AssignResult{}, err
	}
	if len(target.OrderIDs) == 0 {
		return AssignResult{}, invalid("orderIds", "at least one order is required")
	}
	orders := make([]*model.Order, 0, len(target.OrderIDs))
	seen := map[int64]bool{}
	for _, id := range target.OrderIDs {
		if seen[id] {
			return AssignResult{}, invalid("orderIds", fmt.Sprintf("order %d listed twice", id))
		}
		seen[id] = true
		o, ok := s.orders[id]
		if !ok {
			return AssignResult{}, notFound(id)
		}
		if o.Status != model.StatusPending && o.Status != model.StatusSelected {
			return AssignResult{}, &TransitionError{OrderID: id, Op: "assign", From: o.Status}
		}
		orders = append(orders, o)
	}
	if rider.Status != model.RiderAvailable {
		return AssignResult{
			Reason: fmt.Sprintf("rider %s is busy until %s", rider.Name, expectedBy(rider.ExpectedFreeTime)),
		}, nil
	}

	a := model.Assignment{Kind: model.AssignSingle}
	var est time.Duration
	route := s.routeFor(orders, model.MaximizeSLA)
	if len(orders) == 1 {
		est = s.cfg.Estimator.Single(s.depotDistance(orders[0]))
		a.OrderIDs = []int64{orders[0].ID}
		if route != nil {
			a.RouteKm = route.TotalKm
		}
	} else {
		a.Kind = model.AssignBatch
		a.BatchID = target.BatchID
		if a.BatchID == "" {
			a.BatchID = "bat_" + uuid.NewString()
		}
		a.OrderIDs, a.RouteKm = tripOrder(route, orders)
		est = s.cfg.Estimator.Batch(a.RouteKm, len(orders))
	}

	assigned, err := s.pool.Assign(riderID, a, now, est)
	if err != nil {
		return AssignResult{}, err
	}

	for _, o := range orders {
		if o.SelectedAt == nil {
			t := now
			o.SelectedAt = &t
		}
		rid := riderID
		start, back := now, *assigned.ExpectedFreeTime
		o.Status = model.StatusOutForDelivery
		o.AssignedRiderID = &rid
		o.DeliveryStartedAt = &start
		o.ExpectedReturnTime = &back
		if a.Kind == model.AssignBatch {
			bid := a.BatchID
			o.BatchID = &bid
		}
	}
	return AssignResult{OK: true, Rider: assigned, Orders: cloneAll(orders), Route: route}, nil
}

// depotDistance is the known distance, or the distance implied by the
// coordinates, or zero.
func (s *Scheduler) depotDistance(o *model.Order) float64 {
	if o.DistanceKm != nil {
		return *o.DistanceKm
	}
	if p, ok := o.Location(); ok {
		return geo.Distance(s.cfg.Depot, p)
	}
	return 0
}

// tripOrder lists the batch in visiting order: sequenced stops first, then
// members without coordinates in their given order. The trip length adds an
// out-and-back leg for every unlocated member with a known distance.
func tripOrder(route *model.Route, orders []*model.Order) ([]int64, float64) {
	var idList []int64
	km := 0.0
	if route != nil {
		for _, st := range route.Stops {
			idList = append(idList, st.OrderID)
		}
		km = route.TotalKm
	}
	for _, o := range orders {
		if slices.Contains(idList, o.ID) {
			continue
		}
		idList = append(idList, o.ID)
		if o.DistanceKm != nil {
			km += 2 * *o.DistanceKm
		}
	}
	return idList, geo.Round2(km)
}

// CancelDelivery calls off the trip carrying order id. Every order of that
// trip still out for delivery returns to selected and the rider is freed.
func (s *Scheduler) CancelDelivery(ctx context.Context, id int64) (reverted []model.Order, err error) {
	defer timed(ctx, "cancel_delivery")(&err)
	now := s.cfg.Now()

	s.mu.Lock()
	o, ok := s.orders[id]
	var riderID string
	switch {
	case !ok:
		err = notFound(id)
	case o.Status != model.StatusOutForDelivery:
		err = &TransitionError{OrderID: id, Op: "cancel delivery", From: o.Status}
	default:
		trip := []int64{id}
		if o.AssignedRiderID != nil {
			riderID = *o.AssignedRiderID
			if a, rerr := s.pool.Release(riderID); rerr == nil && a != nil {
				trip = append(trip, a.OrderIDs...)
			}
		}
		var back []*model.Order
		for _, tid := range trip {
			t, ok := s.orders[tid]
			if !ok || t.Status != model.StatusOutForDelivery || slices.Contains(back, t) {
				continue
			}
			if riderID != "" && (t.AssignedRiderID == nil || *t.AssignedRiderID != riderID) {
				continue
			}
			backToSelected(t)
			back = append(back, t)
		}
		reverted = cloneAll(back)
	}
	s.mu.Unlock()

	var evs []model.Event
	if err == nil {
		e := newEvent(model.EventOrderUpdated, model.LevelWarning,
			fmt.Sprintf("delivery cancelled; %d orders back to selected", len(reverted)), now)
		for _, r := range reverted {
			e.OrderIDs = append(e.OrderIDs, r.ID)
		}
		e.Orders = reverted
		evs = append(evs, e)
		if riderID != "" {
			r := newEvent(model.EventRiderReleased, model.LevelInfo, "rider freed by cancelled delivery", now)
			r.RiderID = riderID
			evs = append(evs, r)
		}
	}
	s.emit(ctx, "cancel delivery", evs, err)
	return reverted, err
}

// backToSelected undoes the out-for-delivery step of o.
func backToSelected(o *model.Order) {
	o.Status = model.StatusSelected
	o.AssignedRiderID = nil
	o.BatchID = nil
	o.DeliveryStartedAt = nil
	o.ExpectedReturnTime = nil
}

// MarkDelivered completes one out-for-delivery order and evicts it. The
// rider is freed once nothing is left on the trip.
func (s *Scheduler) MarkDelivered(ctx context.Context, id int64) (out model.Order, err error) {
	defer timed(ctx, "mark_delivered")(&err)
	now := s.cfg.Now()

	s.mu.Lock()
	o, ok := s.orders[id]
	var freed string
	switch {
	case !ok:
		err = notFound(id)
	case o.Status != model.StatusOutForDelivery:
		err = &TransitionError{OrderID: id, Op: "mark delivered", From: o.Status}
	default:
		s.deliverLocked(o, now)
		if rid := o.AssignedRiderID; rid != nil && s.pool.Detach(*rid, id) {
			if _, rerr := s.pool.Release(*rid); rerr == nil {
				freed = *rid
			}
		}
		out = *o.Clone()
	}
	s.mu.Unlock()

	if err == nil {
		s.archive(ctx, []model.Order{out})
	}
	var evs []model.Event
	if err == nil {
		e := newEvent(model.EventOrderDelivered, model.LevelSuccess, fmt.Sprintf("order %s delivered", out.ExternalOrderID), now)
		e.OrderIDs = []int64{id}
		e.Orders = []model.Order{out}
		evs = append(evs, e)
		if freed != "" {
			r := newEvent(model.EventRiderReleased, model.LevelInfo, "rider back at depot", now)
			r.RiderID = freed
			evs = append(evs, r)
		}
	}
	s.emit(ctx, "mark delivered", evs, err)
	return out, err
}

// deliverLocked moves o to delivered and out of the working set.
func (s *Scheduler) deliverLocked(o *model.Order, now time.Time) {
	t := now
	o.Status = model.StatusDelivered
	o.DeliveredAt = &t
	delete(s.orders, o.ID)
	delete(s.byExt, o.ExternalOrderID)
}

// ReleaseRider records a manual trip completion: the rider is freed and
// whatever it still carried is delivered.
func (s *Scheduler) ReleaseRider(ctx context.Context, riderID string) (delivered []model.Order, err error) {
	defer timed(ctx, "release_rider")(&err)
	now := s.cfg.Now()

	s.mu.Lock()
	var a *model.Assignment
	a, err = s.pool.Release(riderID)
	if err == nil && a != nil {
		delivered = s.cascadeLocked(fleet.Released{RiderID: riderID, Assignment: *a}, now)
	}
	s.mu.Unlock()

	if err == nil {
		s.archive(ctx, delivered)
	}
	var evs []model.Event
	if err == nil {
		evs = s.releaseEvents(riderID, delivered, "rider marked back", now)
	}
	s.emit(ctx, "release rider", evs, err)
	return delivered, err
}

// cascadeLocked delivers every order of a released trip that is still out
// with that rider.
func (s *Scheduler) cascadeLocked(rel fleet.Released, now time.Time) []model.Order {
	var out []model.Order
	for _, id := range rel.Assignment.OrderIDs {
		o, ok := s.orders[id]
		if !ok || o.Status != model.StatusOutForDelivery {
			continue
		}
		if o.AssignedRiderID == nil || *o.AssignedRiderID != rel.RiderID {
			continue
		}
		s.deliverLocked(o, now)
		out = append(out, *o.Clone())
	}
	return out
}

func (s *Scheduler) releaseEvents(riderID string, delivered []model.Order, msg string, now time.Time) []model.Event {
	r := newEvent(model.EventRiderReleased, model.LevelInfo, msg, now)
	r.RiderID = riderID
	evs := []model.Event{r}
	if len(delivered) > 0 {
		d := newEvent(model.EventOrderDelivered, model.LevelSuccess, fmt.Sprintf("%d orders delivered", len(delivered)), now)
		d.RiderID = riderID
		for _, o := range delivered {
			d.OrderIDs = append(d.OrderIDs, o.ID)
		}
		d.Orders = delivered
		evs = append(evs, d)
	}
	return evs
}
