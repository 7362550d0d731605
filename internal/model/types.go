package model

import (
	"strings"
	"time"
)

// Order lifecycle states. Removal is a hard delete, not a status.
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusSelected       OrderStatus = "selected"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
)

type RiderStatus string

const (
	RiderAvailable RiderStatus = "available"
	RiderBusy      RiderStatus = "busy"
)

// Strategy selects how batches are ordered and scored.
type Strategy string

const (
	MaximizeSLA    Strategy = "maximize_sla"
	MaximizeOrders Strategy = "maximize_orders"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool { return s == MaximizeSLA || s == MaximizeOrders }

// Partition selects how pending orders are grouped into candidate batches.
type Partition string

const (
	PartitionZone      Partition = "zone"
	PartitionProximity Partition = "proximity"
)

// Zone is a coarse delivery area code, A through E.
type Zone string

// Zones lists the mapped zones in generation order.
var Zones = []Zone{"A", "B", "C", "D", "E"}

// NormalizeZone trims and upper-cases raw and reports whether the result is
// one of the mapped zones.
func NormalizeZone(raw string) (Zone, bool) {
	z := Zone(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Zones {
		if z == known {
			return z, true
		}
	}
	return z, false
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Order is a single delivery order. Nullable fields are pointers; a nil
// pointer means the value is not known or not applicable in the current state.
type Order struct {
	ID              int64       `json:"id"`
	ExternalOrderID string      `json:"externalOrderId"`
	OrderTime       time.Time   `json:"orderTime"`
	Zone            string      `json:"zone"`
	LocationKey     string      `json:"locationKey,omitempty"`
	Lat             *float64    `json:"lat,omitempty"`
	Lng             *float64    `json:"lng,omitempty"`
	DistanceKm      *float64    `json:"distanceFromDepot,omitempty"`
	SLADeadline     time.Time   `json:"slaDeadline"`
	Priority        int         `json:"priority"`
	Status          OrderStatus `json:"status"`
	AssignedRiderID *string     `json:"assignedRiderId,omitempty"`
	BatchID         *string     `json:"batchId,omitempty"`

	SelectedAt         *time.Time `json:"selectedAt,omitempty"`
	DeliveryStartedAt  *time.Time `json:"deliveryStartedAt,omitempty"`
	ExpectedReturnTime *time.Time `json:"expectedReturnTime,omitempty"`
	DeliveredAt        *time.Time `json:"deliveredAt,omitempty"`

	// Level is the display urgency class. It is derived when an order is
	// read and never persisted.
	Level string `json:"level,omitempty"`
}

// Location returns the resolved coordinate, if any.
func (o *Order) Location() (GeoPoint, bool) {
	if o.Lat == nil || o.Lng == nil {
		return GeoPoint{}, false
	}
	return GeoPoint{Lat: *o.Lat, Lng: *o.Lng}, true
}

// Clone returns a deep copy so callers can hand orders out without sharing
// pointers into scheduler state.
func (o *Order) Clone() *Order {
	c := *o
	c.Lat = cloneFloat(o.Lat)
	c.Lng = cloneFloat(o.Lng)
	c.DistanceKm = cloneFloat(o.DistanceKm)
	c.AssignedRiderID = cloneString(o.AssignedRiderID)
	c.BatchID = cloneString(o.BatchID)
	c.SelectedAt = cloneTime(o.SelectedAt)
	c.DeliveryStartedAt = cloneTime(o.DeliveryStartedAt)
	c.ExpectedReturnTime = cloneTime(o.ExpectedReturnTime)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	return &c
}

type AssignmentKind string

const (
	AssignSingle AssignmentKind = "single"
	AssignBatch  AssignmentKind = "batch"
)

// Assignment is the work a busy rider is committed to.
type Assignment struct {
	Kind     AssignmentKind `json:"kind"`
	OrderIDs []int64        `json:"orderIds"`
	BatchID  string         `json:"batchId,omitempty"`
	RouteKm  float64        `json:"routeKm,omitempty"`
}

type Rider struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Status           RiderStatus `json:"status"`
	Assignment       *Assignment `json:"currentAssignment,omitempty"`
	ExpectedFreeTime *time.Time  `json:"expectedFreeTime,omitempty"`
}

// Clone returns a deep copy of the rider.
func (r *Rider) Clone() *Rider {
	c := *r
	if r.Assignment != nil {
		a := *r.Assignment
		a.OrderIDs = append([]int64(nil), r.Assignment.OrderIDs...)
		c.Assignment = &a
	}
	c.ExpectedFreeTime = cloneTime(r.ExpectedFreeTime)
	return &c
}

// RouteStop is one visit in a sequenced route.
type RouteStop struct {
	OrderID         int64     `json:"orderId"`
	ExternalOrderID string    `json:"externalOrderId,omitempty"`
	Location        GeoPoint  `json:"location"`
	SLADeadline     time.Time `json:"slaDeadline"`
	LegKm           float64   `json:"legKm"`
}

// Route is a depot-to-depot visiting order.
type Route struct {
	Depot   GeoPoint    `json:"depot"`
	Stops   []RouteStop `json:"stops"`
	TotalKm float64     `json:"totalKm"`
	SeedKm  float64     `json:"seedKm"`
}

// Batch is a transient candidate trip. It is discarded once a rider is
// assigned.
type Batch struct {
	ID       string   `json:"id"`
	Zone     Zone     `json:"zone,omitempty"`
	Orders   []*Order `json:"orders"`
	Score    float64  `json:"score"`
	Route    *Route   `json:"route,omitempty"`
	Strategy Strategy `json:"strategy"`
}

// OrderIDs returns the member IDs in batch order.
func (b *Batch) OrderIDs() []int64 {
	ids := make([]int64, 0, len(b.Orders))
	for _, o := range b.Orders {
		ids = append(ids, o.ID)
	}
	return ids
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
