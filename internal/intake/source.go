// Package intake turns external order feeds into create-order requests.
package intake

import (
	"context"

	"riderdispatch/internal/model"
)

// Source is an order feed such as a spreadsheet export.
type Source interface {
	Name() string
	FetchOrders(ctx context.Context) (Batch, error)
}

// Row is one parsed order with its position in the feed.
type Row struct {
	Line  int
	Order model.CreateOrderRequest
}

// RowError is a row the source could not turn into a request.
type RowError struct {
	Line            int    `json:"row"`
	ExternalOrderID string `json:"externalOrderId,omitempty"`
	Reason          string `json:"reason"`
}

type Batch struct {
	Rows     []Row
	Rejected []RowError
	// Ignored lists header cells that matched no known column, or repeated
	// one already taken.
	Ignored []string
}

// Requests returns the parsed orders in feed order.
func (b Batch) Requests() []model.CreateOrderRequest {
	out := make([]model.CreateOrderRequest, 0, len(b.Rows))
	for _, r := range b.Rows {
		out = append(out, r.Order)
	}
	return out
}
