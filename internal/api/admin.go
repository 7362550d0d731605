package api

import (
	"context"
	"net/http"
	"time"

	"riderdispatch/internal/model"
	"riderdispatch/internal/store"
)

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler checks the persistence backend.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) ListSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	subs, err := s.Outbox.ListSubscriptions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Secrets are write-only.
	for i := range subs {
		subs[i].Secret = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": subs})
}

func (s *Server) CreateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var sub model.Subscription
	if !s.decode(w, r, &sub) {
		return
	}
	sub.ID = ""
	created, err := s.Outbox.CreateSubscription(r.Context(), sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created.Secret = ""
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) DeleteSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Outbox.DeleteSubscription(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", store.DeliveryPending, store.DeliveryRetry, store.DeliveryDelivered, store.DeliveryFailed:
	default:
		writeProblem(w, http.StatusBadRequest, "Validation failed", "status must be pending, retry, delivered or failed", r.URL.Path)
		return
	}
	items, err := s.Outbox.ListWebhookDeliveries(r.Context(), status, queryLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Outbox.RetryWebhookDelivery(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}
