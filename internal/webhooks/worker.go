package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"riderdispatch/internal/metrics"
	"riderdispatch/internal/store"
)

// Worker drains due webhook deliveries, signing each body when the
// subscription has a secret.
type Worker struct {
	Store       store.Outbox
	HTTP        *http.Client
	Stop        chan struct{}
	MaxAttempts int
	Interval    time.Duration
	now         func() time.Time
}

func NewWorker(s store.Outbox, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Stop:        make(chan struct{}),
		MaxAttempts: maxAttempts,
		Interval:    time.Second,
		now:         time.Now,
	}
}

func (w *Worker) Start() {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

func (w *Worker) clock() time.Time {
	if w.now == nil {
		return time.Now()
	}
	return w.now()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil {
		log.Printf("webhooks: fetch due: %v", err)
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	code, latency, err := w.post(ctx, it)
	success := err == nil && code >= 200 && code < 300
	lastErr := ""
	switch {
	case err != nil:
		lastErr = err.Error()
	case !success:
		lastErr = fmt.Sprintf("unexpected status %d", code)
	}

	status := store.DeliveryDelivered
	if !success {
		status = store.DeliveryRetry
		if it.Attempts+1 >= w.MaxAttempts {
			status = store.DeliveryFailed
		}
	}
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))

	if status == store.DeliveryFailed {
		log.Printf("webhooks: giving up on %s to %s after %d attempts: %s", it.ID, it.URL, it.Attempts+1, lastErr)
		if err := w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency); err != nil {
			log.Printf("webhooks: fail %s: %v", it.ID, err)
		}
		return
	}
	next := w.clock().Add(nextBackoff(it.Attempts))
	if err := w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency); err != nil {
		log.Printf("webhooks: mark %s: %v", it.ID, err)
	}
}

func (w *Worker) post(ctx context.Context, it store.WebhookDelivery) (code, latencyMs int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	req.Header.Set("X-Delivery-Id", it.ID)
	if it.Secret != "" {
		ts := w.clock()
		req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
		req.Header.Set("X-Signature-Timestamp", strconv.FormatInt(ts.Unix(), 10))
		req.Header.Set("X-Signature-V2", SignTimestamped(it.Secret, ts, it.Payload))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latencyMs = int(time.Since(start).Milliseconds())
	if err != nil {
		return 0, latencyMs, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, latencyMs, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
