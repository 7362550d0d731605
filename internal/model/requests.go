package model

import "time"

// Request bodies accepted by the HTTP surface. Validation tags are checked
// with go-playground/validator before reaching the scheduler.

type CreateOrderRequest struct {
	ExternalOrderID string     `json:"externalOrderId" validate:"required,max=64"`
	OrderTime       *time.Time `json:"orderTime" validate:"required"`
	Zone            string     `json:"zone" validate:"max=8"`
	DistanceKm      *float64   `json:"distanceFromDepot,omitempty" validate:"omitempty,gte=0"`
	LocationKey     string     `json:"locationKey,omitempty" validate:"max=256"`
	Location        *GeoPoint  `json:"location,omitempty"`
}

type ResolveLocationRequest struct {
	Key string  `json:"key" validate:"required"`
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

type SetDistanceRequest struct {
	DistanceKm float64 `json:"distanceFromDepot" validate:"gte=0"`
}

type BatchRequest struct {
	MaxBatchSize int       `json:"maxBatchSize" validate:"omitempty,gte=1,lte=20"`
	Strategy     Strategy  `json:"strategy" validate:"omitempty,oneof=maximize_sla maximize_orders"`
	Partition    Partition `json:"partition,omitempty" validate:"omitempty,oneof=zone proximity"`
}

// AssignRequest targets either a single order or an explicit list of orders
// forming a batch (usually one returned by a batch request).
type AssignRequest struct {
	OrderID  *int64  `json:"orderId,omitempty" validate:"required_without=OrderIDs"`
	OrderIDs []int64 `json:"orderIds,omitempty" validate:"omitempty,dive,gt=0"`
	BatchID  string  `json:"batchId,omitempty"`
}

type AddRiderRequest struct {
	Name string `json:"name" validate:"required,min=1,max=64"`
}
