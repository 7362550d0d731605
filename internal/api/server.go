// Package api implements the HTTP surface of the dispatch service.
package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"riderdispatch/internal/auth"
	"riderdispatch/internal/config"
	"riderdispatch/internal/dispatch"
	"riderdispatch/internal/metrics"
	"riderdispatch/internal/store"
)

type Server struct {
	Sched   *dispatch.Scheduler
	Store   store.Store
	Outbox  store.Outbox
	Auth    *auth.Verifier
	Broker  EventBroker
	Limiter *rate.Limiter
	Config  *config.Config

	validate  *validator.Validate
	heartbeat time.Duration
}

// Deps are the collaborators built by the composition root.
type Deps struct {
	Scheduler *dispatch.Scheduler
	Store     store.Store
	Outbox    store.Outbox
	Auth      *auth.Verifier
	Broker    EventBroker
	Config    *config.Config
}

func NewServer(d Deps) *Server {
	s := &Server{
		Sched:     d.Scheduler,
		Store:     d.Store,
		Outbox:    d.Outbox,
		Auth:      d.Auth,
		Broker:    d.Broker,
		Config:    d.Config,
		validate:  newValidator(),
		heartbeat: 15 * time.Second,
	}
	if s.Auth == nil {
		s.Auth = auth.NewVerifier(auth.ModeDev, "")
	}
	if s.Broker == nil {
		s.Broker = NewBroker()
	}
	if d.Config != nil && d.Config.RateRPS > 0 {
		s.Limiter = rate.NewLimiter(rate.Limit(d.Config.RateRPS), max(1, d.Config.RateBurst))
	}
	return s
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health, metrics, docs
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("GET /openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("GET /docs", s.DocsHandler)

	// Orders
	mux.HandleFunc("POST /v1/orders", s.require(auth.RoleDispatcher, s.CreateOrderHandler))
	mux.HandleFunc("GET /v1/orders", s.require(auth.RoleViewer, s.ListOrdersHandler))
	mux.HandleFunc("POST /v1/orders/import", s.require(auth.RoleDispatcher, s.ImportOrdersHandler))
	mux.HandleFunc("GET /v1/orders/best", s.require(auth.RoleViewer, s.BestOrderHandler))
	mux.HandleFunc("GET /v1/orders/{id}", s.require(auth.RoleViewer, s.GetOrderHandler))
	mux.HandleFunc("DELETE /v1/orders/{id}", s.require(auth.RoleDispatcher, s.RemoveOrderHandler))
	mux.HandleFunc("PUT /v1/orders/{id}/distance", s.require(auth.RoleDispatcher, s.SetDistanceHandler))
	mux.HandleFunc("POST /v1/orders/{id}/select", s.require(auth.RoleDispatcher, s.SelectOrderHandler))
	mux.HandleFunc("POST /v1/orders/{id}/cancel-selection", s.require(auth.RoleDispatcher, s.CancelSelectionHandler))
	mux.HandleFunc("POST /v1/orders/{id}/cancel-delivery", s.require(auth.RoleDispatcher, s.CancelDeliveryHandler))
	mux.HandleFunc("POST /v1/orders/{id}/deliver", s.require(auth.RoleDispatcher, s.MarkDeliveredHandler))
	mux.HandleFunc("POST /v1/locations/resolve", s.require(auth.RoleDispatcher, s.ResolveLocationHandler))
	mux.HandleFunc("POST /v1/batches", s.require(auth.RoleDispatcher, s.BatchesHandler))
	mux.HandleFunc("GET /v1/history", s.require(auth.RoleViewer, s.HistoryHandler))
	mux.HandleFunc("GET /v1/stats", s.require(auth.RoleViewer, s.StatsHandler))

	// Riders
	mux.HandleFunc("POST /v1/riders", s.require(auth.RoleDispatcher, s.AddRiderHandler))
	mux.HandleFunc("GET /v1/riders", s.require(auth.RoleViewer, s.ListRidersHandler))
	mux.HandleFunc("GET /v1/riders/{id}", s.require(auth.RoleViewer, s.GetRiderHandler))
	mux.HandleFunc("DELETE /v1/riders/{id}", s.require(auth.RoleAdmin, s.RemoveRiderHandler))
	mux.HandleFunc("POST /v1/riders/{id}/assign", s.require(auth.RoleDispatcher, s.AssignRiderHandler))
	mux.HandleFunc("POST /v1/riders/{id}/release", s.require(auth.RoleDispatcher, s.ReleaseRiderHandler))

	// Event streams
	mux.HandleFunc("GET /v1/events/stream", s.require(auth.RoleViewer, s.EventStreamHandler))
	mux.HandleFunc("GET /v1/events/ws", s.require(auth.RoleViewer, s.EventWSHandler))

	// Subscriptions and admin
	mux.HandleFunc("GET /v1/subscriptions", s.require(auth.RoleAdmin, s.ListSubscriptionsHandler))
	mux.HandleFunc("POST /v1/subscriptions", s.require(auth.RoleAdmin, s.CreateSubscriptionHandler))
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", s.require(auth.RoleAdmin, s.DeleteSubscriptionHandler))
	mux.HandleFunc("GET /v1/admin/webhook-deliveries", s.require(auth.RoleAdmin, s.WebhookDeliveriesHandler))
	mux.HandleFunc("POST /v1/admin/webhook-deliveries/{id}/retry", s.require(auth.RoleAdmin, s.WebhookDeliveryRetryHandler))
	mux.HandleFunc("POST /v1/admin/tick", s.require(auth.RoleAdmin, s.TickHandler))
	mux.HandleFunc("GET /debug", s.require(auth.RoleAdmin, s.DebugJSON))

	return withRequestID(withAccessLog(s.withRateLimit(mux)))
}
