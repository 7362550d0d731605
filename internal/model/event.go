package model

// Outbound event types.
const (
	EventOrderCreated    = "order.created"
	EventOrderUpdated    = "order.updated"
	EventOrderRemoved    = "order.removed"
	EventOrderDelivered  = "order.delivered"
	EventRiderAssigned   = "rider.assigned"
	EventRiderReleased   = "rider.released"
	EventRouteSequenced  = "route.sequenced"
	EventOperationFailed = "operation.failed"
)

// Notification levels for human-readable messages.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Event is emitted to external collaborators (display refresh, route
// rendering, notifications).
type Event struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Level    string  `json:"level"`
	Message  string  `json:"message"`
	TS       string  `json:"ts"`
	OrderIDs []int64 `json:"orderIds,omitempty"`
	RiderID  string  `json:"riderId,omitempty"`
	Orders   []Order `json:"orders,omitempty"`
	Route    *Route  `json:"route,omitempty"`
}
