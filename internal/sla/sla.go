// Package sla derives SLA deadlines and urgency scores from order placement
// time and distance from the depot.
package sla

import (
	"math"
	"time"
)

// NextDayPriority is the fixed score of orders whose deadline falls on a
// later calendar day than their placement.
const NextDayPriority = 10

// MaxDistanceBonusKm bounds the proximity bonus: orders further away than
// this get none.
const MaxDistanceBonusKm = 20.0

// ComputeSLADeadline returns the latest acceptable delivery time for an
// order placed at orderTime. The result is in orderTime's location.
func ComputeSLADeadline(orderTime time.Time) time.Time {
	y, m, d := orderTime.Date()
	loc := orderTime.Location()
	switch h := orderTime.Hour(); {
	case h < 10:
		return time.Date(y, m, d, 12, 0, 0, 0, loc)
	case h < 18:
		return orderTime.Add(2 * time.Hour)
	default:
		return time.Date(y, m, d+1, 12, 0, 0, 0, loc)
	}
}

// IsNextDay reports whether deadline falls on a later calendar day than
// orderTime, both read in orderTime's location.
func IsNextDay(orderTime, deadline time.Time) bool {
	oy, om, od := orderTime.Date()
	dy, dm, dd := deadline.In(orderTime.Location()).Date()
	return time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC).After(time.Date(oy, om, od, 0, 0, 0, 0, time.UTC))
}

// HoursToDeadline is the signed time left until deadline, in hours.
func HoursToDeadline(deadline, now time.Time) float64 {
	return deadline.Sub(now).Hours()
}

// ComputePriority scores an order: higher is more urgent. distanceKm may be
// nil while the location is unresolved, in which case no proximity bonus is
// added.
func ComputePriority(orderTime, deadline time.Time, distanceKm *float64, now time.Time) int {
	if IsNextDay(orderTime, deadline) {
		return NextDayPriority
	}
	var base float64
	switch h := HoursToDeadline(deadline, now); {
	case h <= 0.5:
		base = 100
	case h <= 1:
		base = 80
	case h <= 1.5:
		base = 60
	default:
		base = 40
	}
	if distanceKm != nil {
		base += math.Max(0, MaxDistanceBonusKm-*distanceKm)
	}
	return int(math.Round(base))
}

// Level is the display classification of an order's urgency.
type Level string

const (
	LevelNextDay Level = "next-day"
	LevelOverdue Level = "overdue"
	LevelHigh    Level = "high-priority"
	LevelNormal  Level = "normal"
)

// PriorityLevel classifies an order for display. The thresholds line up
// with ComputePriority: next-day orders score the fixed minimum and
// high-priority orders are those scoring a base of 80 or more.
func PriorityLevel(orderTime, deadline, now time.Time) Level {
	if IsNextDay(orderTime, deadline) {
		return LevelNextDay
	}
	switch h := HoursToDeadline(deadline, now); {
	case h <= 0:
		return LevelOverdue
	case h <= 1:
		return LevelHigh
	default:
		return LevelNormal
	}
}
