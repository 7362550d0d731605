package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Delivery states.
const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

type WebhookDelivery struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
	EventType      string     `json:"eventType"`
	URL            string     `json:"url"`
	Secret         string     `json:"-"`
	Payload        []byte     `json:"-"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  time.Time  `json:"nextAttemptAt"`
	LastError      string     `json:"lastError,omitempty"`
	ResponseCode   int        `json:"responseCode,omitempty"`
	LatencyMs      int        `json:"latencyMs,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
}

// computeDedupKey uses the payload's "id" when present, else a short hash
// of the body, so the same event is not queued twice for one URL.
func computeDedupKey(payload []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
