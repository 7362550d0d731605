package batch

import (
	"math"
	"slices"
	"time"

	"riderdispatch/internal/model"
	"riderdispatch/internal/sla"
)

// Scoring weights.
const (
	criticalOverdueHours = 4.0
	criticalBase         = 1000.0
	criticalPerOrder     = 200.0
	perOrderWeight       = 10.0
	zonePurityBonus      = 50.0
	avgPriorityWeight    = 5.0
	dueSoonWeight        = 15.0
	dueSoonHours         = 4.0
	proximityWeight      = 2.0
	largeBatchWeight     = 8.0
	highPriorityBonus    = 5.0
	highPriorityFloor    = 8
)

// HoursOverdue is how long past its deadline an order is at now; zero when
// not overdue.
func HoursOverdue(o *model.Order, now time.Time) float64 {
	return math.Max(0, now.Sub(o.SLADeadline).Hours())
}

// IsCritical reports an order more than four hours past its deadline.
func IsCritical(o *model.Order, now time.Time) bool {
	return HoursOverdue(o, now) > criticalOverdueHours
}

// Score ranks a candidate batch; higher is better. Any batch holding a
// critical order scores above every batch without one.
func Score(b *model.Batch, strategy model.Strategy, now time.Time) float64 {
	n := len(b.Orders)
	if n == 0 {
		return 0
	}
	score := 0.0

	critical := 0
	for _, o := range b.Orders {
		if IsCritical(o, now) {
			critical++
		}
	}
	if critical > 0 {
		score += criticalBase + criticalPerOrder*float64(critical)
	}

	score += perOrderWeight * float64(n)

	if _, pure := SharedZone(b.Orders); pure {
		score += zonePurityBonus
	}

	if strategy == model.MaximizeOrders {
		if avg, ok := avgDistance(b.Orders); ok {
			score += proximityWeight * math.Max(0, sla.MaxDistanceBonusKm-avg)
		}
		if n >= 3 {
			score += largeBatchWeight * float64(n-2)
		}
	} else {
		score += avgPriorityWeight * avgPriority(b.Orders)
		dueSoon := 0
		for _, o := range b.Orders {
			h := sla.HoursToDeadline(o.SLADeadline, now)
			if h > 0 && h <= dueSoonHours && !IsCritical(o, now) {
				dueSoon++
			}
		}
		score += dueSoonWeight * float64(dueSoon)
	}

	for _, o := range b.Orders {
		if o.Priority >= highPriorityFloor {
			score += highPriorityBonus
		}
	}
	return score
}

// Rank scores every batch and orders them best first. The sort is stable so
// equal scores keep generation order.
func Rank(batches []*model.Batch, strategy model.Strategy, now time.Time) []*model.Batch {
	for _, b := range batches {
		b.Score = Score(b, strategy, now)
	}
	out := append([]*model.Batch(nil), batches...)
	slices.SortStableFunc(out, func(a, b *model.Batch) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return out
}

func avgPriority(orders []*model.Order) float64 {
	sum := 0
	for _, o := range orders {
		sum += o.Priority
	}
	return float64(sum) / float64(len(orders))
}

// avgDistance averages the known distances; orders without one are left out.
func avgDistance(orders []*model.Order) (float64, bool) {
	sum, n := 0.0, 0
	for _, o := range orders {
		if o.DistanceKm != nil {
			sum += *o.DistanceKm
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
