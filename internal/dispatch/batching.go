package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"riderdispatch/internal/batch"
	"riderdispatch/internal/model"
	"riderdispatch/internal/opt"
)

// BatchOptions tunes a batch request. Zero values take the configured
// defaults: the scheduler's batch size, maximize_sla and zone partitioning.
type BatchOptions struct {
	MaxBatchSize int
	Strategy     model.Strategy
	Partition    model.Partition
}

func (s *Scheduler) normalize(opts BatchOptions) (BatchOptions, error) {
	if opts.Strategy == "" {
		opts.Strategy = model.MaximizeSLA
	}
	if !opts.Strategy.Valid() {
		return opts, invalid("strategy", fmt.Sprintf("unknown strategy %q", opts.Strategy))
	}
	if opts.Partition == "" {
		opts.Partition = model.PartitionZone
	}
	if opts.Partition != model.PartitionZone && opts.Partition != model.PartitionProximity {
		return opts, invalid("partition", fmt.Sprintf("unknown partition %q", opts.Partition))
	}
	if opts.MaxBatchSize == 0 {
		opts.MaxBatchSize = s.cfg.MaxBatchSize
	}
	if opts.MaxBatchSize < 1 || opts.MaxBatchSize > batch.MaxSize {
		return opts, invalid("maxBatchSize", fmt.Sprintf("must be between 1 and %d", batch.MaxSize))
	}
	return opts, nil
}

// RequestBatches proposes ranked candidate trips from the pending orders.
// Batches hold copies; nothing in the working set changes. With no eligible
// orders the result is empty, not an error.
func (s *Scheduler) RequestBatches(ctx context.Context, opts BatchOptions) (out []*model.Batch, err error) {
	defer timed(ctx, "request_batches")(&err)
	opts, err = s.normalize(opts)
	if err != nil {
		s.emit(ctx, "request batches", nil, err)
		return nil, err
	}
	now := s.cfg.Now()

	s.mu.Lock()
	working := cloneAll(s.sortedOrders())
	s.mu.Unlock()

	list := make([]*model.Order, 0, len(working))
	for i := range working {
		list = append(list, &working[i])
	}

	var cands []*model.Batch
	if opts.Partition == model.PartitionProximity {
		cands = s.proximityBatches(list, opts)
	} else {
		cands = batch.Build(batch.Group(list), opts.MaxBatchSize, opts.Strategy)
	}
	out = batch.Rank(cands, opts.Strategy, now)
	for _, b := range out {
		b.ID = "bat_" + uuid.NewString()
		b.Route = s.routeFor(b.Orders, opts.Strategy)
	}

	if len(out) == 0 {
		s.emit(ctx, "request batches", []model.Event{
			newEvent(model.EventOperationFailed, model.LevelWarning, "no eligible orders to batch", now),
		}, nil)
		return []*model.Batch{}, nil
	}
	top := out[0]
	e := newEvent(model.EventRouteSequenced, model.LevelInfo,
		fmt.Sprintf("%d batches ready; best has %d orders (score %.0f)", len(out), len(top.Orders), top.Score), now)
	e.OrderIDs = top.OrderIDs()
	e.Route = top.Route
	s.emit(ctx, "request batches", []model.Event{e}, nil)
	return out, nil
}

// proximityBatches clusters located pending orders regardless of zone.
func (s *Scheduler) proximityBatches(list []*model.Order, opts BatchOptions) []*model.Batch {
	byID := map[int64]*model.Order{}
	var stops []opt.Stop
	for _, o := range list {
		if o.Status != model.StatusPending {
			continue
		}
		if st, ok := stopOf(o); ok {
			stops = append(stops, st)
			byID[o.ID] = o
		}
	}
	size := min(opts.MaxBatchSize, s.cfg.MaxClusterSize)
	var out []*model.Batch
	for _, cl := range opt.Cluster(s.cfg.Depot, stops, opt.SeedFor(opts.Strategy), size) {
		b := &model.Batch{Strategy: opts.Strategy}
		for _, st := range cl {
			b.Orders = append(b.Orders, byID[st.OrderID])
		}
		if z, ok := batch.SharedZone(b.Orders); ok {
			b.Zone = z
		}
		out = append(out, b)
	}
	return out
}

// routeFor sequences the members that have coordinates. It returns nil when
// none do.
func (s *Scheduler) routeFor(orders []*model.Order, strategy model.Strategy) *model.Route {
	var stops []opt.Stop
	for _, o := range orders {
		if st, ok := stopOf(o); ok {
			stops = append(stops, st)
		}
	}
	if len(stops) == 0 {
		return nil
	}
	r := opt.Sequence(s.cfg.Depot, stops, opt.SeedFor(strategy))
	return &r
}

func stopOf(o *model.Order) (opt.Stop, bool) {
	p, ok := o.Location()
	if !ok {
		return opt.Stop{}, false
	}
	return opt.Stop{
		OrderID:         o.ID,
		ExternalOrderID: o.ExternalOrderID,
		Location:        p,
		SLADeadline:     o.SLADeadline,
	}, true
}

// RequestBestSingleOrder returns the pending order the strategy would
// dispatch first, or false when nothing is pending.
func (s *Scheduler) RequestBestSingleOrder(ctx context.Context, strategy model.Strategy) (out model.Order, found bool, err error) {
	defer timed(ctx, "best_single_order")(&err)
	if strategy == "" {
		strategy = model.MaximizeSLA
	}
	if !strategy.Valid() {
		err = invalid("strategy", fmt.Sprintf("unknown strategy %q", strategy))
		s.emit(ctx, "best single order", nil, err)
		return out, false, err
	}

	s.mu.Lock()
	var list []*model.Order
	for _, o := range s.sortedOrders() {
		if o.Status == model.StatusPending {
			list = append(list, o)
		}
	}
	batch.SortOrders(list, strategy)
	if len(list) > 0 {
		out, found = view(list[0], s.cfg.Now()), true
	}
	s.mu.Unlock()
	return out, found, nil
}

// expectedBy renders a time for operator messages.
func expectedBy(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.Format("15:04")
}
