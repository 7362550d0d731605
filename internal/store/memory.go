package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"riderdispatch/internal/model"
)

// Memory is an in-process store used when neither DATABASE_URL nor
// REDIS_URL is set. It implements Store and Outbox.
type Memory struct {
	mu       sync.Mutex
	snap     *model.Snapshot
	history  []model.Order // oldest first
	subs     []model.Subscription
	delivery map[string]*WebhookDelivery
	queue    []string          // delivery ids in enqueue order
	dedup    map[string]string // url|type|key -> delivery id
}

func NewMemory() *Memory {
	return &Memory{
		delivery: map[string]*WebhookDelivery{},
		dedup:    map[string]string{},
	}
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func (m *Memory) SaveSnapshot(_ context.Context, snap model.Snapshot) error {
	c := copySnapshot(snap)
	m.mu.Lock()
	m.snap = &c
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadSnapshot(context.Context) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return model.Snapshot{}, fmt.Errorf("load snapshot: %w", ErrNotFound)
	}
	return copySnapshot(*m.snap), nil
}

func copySnapshot(s model.Snapshot) model.Snapshot {
	c := model.Snapshot{NextID: s.NextID, SavedAt: s.SavedAt}
	for i := range s.Orders {
		c.Orders = append(c.Orders, *s.Orders[i].Clone())
	}
	for i := range s.Riders {
		c.Riders = append(c.Riders, *s.Riders[i].Clone())
	}
	return c
}

func (m *Memory) AppendHistory(_ context.Context, orders []model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range orders {
		m.history = append(m.history, *orders[i].Clone())
	}
	if over := len(m.history) - historyCap; over > 0 {
		m.history = slices.Delete(m.history, 0, over)
	}
	return nil
}

func (m *Memory) ListHistory(_ context.Context, limit int) ([]model.Order, error) {
	limit = clampLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.history[i].Clone())
	}
	return out, nil
}

func (m *Memory) CreateSubscription(_ context.Context, sub model.Subscription) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.Events = slices.Clone(sub.Events)
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *Memory) ListSubscriptions(context.Context) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription{}, m.subs...), nil
}

func (m *Memory) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.subs)
	m.subs = slices.DeleteFunc(m.subs, func(s model.Subscription) bool { return s.ID == id })
	if len(m.subs) == n {
		return fmt.Errorf("subscription %q: %w", id, ErrNotFound)
	}
	return nil
}

func (m *Memory) GetSubscriptionsForEvent(_ context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		if s.Matches(eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(_ context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := url + "|" + eventType + "|" + computeDedupKey(payload)
	if id, dup := m.dedup[key]; dup {
		return id, nil
	}
	id := uuid.NewString()
	m.delivery[id] = &WebhookDelivery{
		ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret,
		Payload: slices.Clone(payload), Status: DeliveryPending, NextAttemptAt: time.Now(),
	}
	m.queue = append(m.queue, id)
	m.dedup[key] = id
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(_ context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.queue {
		d := m.delivery[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(_ context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.delivery[id]
	if d == nil {
		return fmt.Errorf("delivery %q: %w", id, ErrNotFound)
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		now := time.Now()
		d.Status = DeliveryDelivered
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(_ context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.delivery[id]
	if d == nil {
		return fmt.Errorf("delivery %q: %w", id, ErrNotFound)
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(_ context.Context, status string, limit int) ([]WebhookDelivery, error) {
	limit = clampLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []WebhookDelivery{}
	for _, id := range m.queue {
		d := m.delivery[id]
		if status == "" || d.Status == status {
			out = append(out, *d)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) RetryWebhookDelivery(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.delivery[id]
	if d == nil {
		return fmt.Errorf("delivery %q: %w", id, ErrNotFound)
	}
	d.Status = DeliveryPending
	d.NextAttemptAt = time.Now()
	return nil
}
