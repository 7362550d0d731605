// Package store persists the dispatch working set, the delivered-order
// history and the outbound webhook queue.
package store

import (
	"context"
	"errors"
	"time"

	"riderdispatch/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store round-trips scheduler snapshots and keeps evicted orders. Timestamps
// must come back with the same instant and offset they were saved with.
type Store interface {
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error
	// LoadSnapshot returns ErrNotFound when nothing has been saved yet.
	LoadSnapshot(ctx context.Context) (model.Snapshot, error)
	AppendHistory(ctx context.Context, orders []model.Order) error
	// ListHistory returns the most recently archived orders first.
	ListHistory(ctx context.Context, limit int) ([]model.Order, error)
	Ping(ctx context.Context) error
	Close() error
}

// Outbox holds webhook subscriptions and the delivery queue.
type Outbox interface {
	CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)

	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error)
	RetryWebhookDelivery(ctx context.Context, id string) error
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
	// historyCap bounds the in-memory and Redis history lists.
	historyCap = 10000
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return defaultListLimit
	}
	return limit
}
