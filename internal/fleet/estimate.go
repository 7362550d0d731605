package fleet

import (
	"math"
	"time"
)

// Estimator turns an assignment into the time a rider is expected to be
// away. All durations are computed in hours and converted at the end.
type Estimator struct {
	AverageSpeedKmh     float64
	PrepHours           float64
	HandoverHours       float64
	SingleBuffer        float64
	MinutesPerKm        float64
	StopHandoverMinutes float64
	BatchBuffer         float64
}

func DefaultEstimator() Estimator {
	return Estimator{
		AverageSpeedKmh:     25,
		PrepHours:           0.25,
		HandoverHours:       0.17,
		SingleBuffer:        1.15,
		MinutesPerKm:        4.2,
		StopHandoverMinutes: 10,
		BatchBuffer:         1.15,
	}
}

// Single estimates a one-order trip of distanceKm from the depot.
func (e Estimator) Single(distanceKm float64) time.Duration {
	travel := 0.0
	if e.AverageSpeedKmh > 0 {
		travel = math.Max(0, distanceKm) / e.AverageSpeedKmh
	}
	return hours((travel + e.PrepHours + e.HandoverHours) * e.SingleBuffer)
}

// Batch estimates a multi-stop round trip of routeKm.
func (e Estimator) Batch(routeKm float64, stops int) time.Duration {
	travel := e.MinutesPerKm * math.Max(0, routeKm) / 60
	handover := float64(stops) * e.StopHandoverMinutes / 60
	return hours((travel + handover) * e.BatchBuffer)
}

func hours(h float64) time.Duration {
	return time.Duration(math.Round(h * float64(time.Hour)))
}
