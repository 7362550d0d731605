package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"riderdispatch/internal/dispatch"
	"riderdispatch/internal/intake"
	"riderdispatch/internal/model"
)

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &dispatch.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return id, nil
}

func queryLimit(r *http.Request) int {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return limit
}

// CreateOrderHandler handles POST /v1/orders
func (s *Server) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req model.CreateOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	o, err := s.Sched.CreateOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/orders/%d", o.ID))
	writeJSON(w, http.StatusCreated, o)
}

type importResponse struct {
	dispatch.ImportResult
	IgnoredColumns []string `json:"ignoredColumns,omitempty"`
}

// ImportOrdersHandler handles POST /v1/orders/import with a text/csv body.
// Row numbers in the response are CSV line numbers.
func (s *Server) ImportOrdersHandler(w http.ResponseWriter, r *http.Request) {
	var loc *time.Location
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, r, &dispatch.ValidationError{Field: "tz", Reason: err.Error()})
			return
		}
		loc = l
	}
	src := intake.CSVSource{R: http.MaxBytesReader(w, r.Body, 8*maxBodyBytes), Location: loc}
	feed, err := src.FetchOrders(r.Context())
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
		return
	}
	res, err := s.Sched.ImportOrders(r.Context(), feed.Requests())
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range res.Rejected {
		res.Rejected[i].Row = feed.Rows[res.Rejected[i].Row-1].Line
	}
	for _, re := range feed.Rejected {
		res.Rejected = append(res.Rejected, dispatch.ImportRejection{Row: re.Line, ExternalOrderID: re.ExternalOrderID, Reason: re.Reason})
	}
	writeJSON(w, http.StatusOK, importResponse{ImportResult: res, IgnoredColumns: feed.Ignored})
}

// ListOrdersHandler handles GET /v1/orders?status=
func (s *Server) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	status := model.OrderStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.StatusPending, model.StatusSelected, model.StatusOutForDelivery:
	default:
		writeError(w, r, &dispatch.ValidationError{Field: "status", Reason: "must be pending, selected or out_for_delivery"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.Sched.ListOrders(status)})
}

func (s *Server) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := s.Sched.GetOrder(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// BestOrderHandler handles GET /v1/orders/best?strategy=
func (s *Server) BestOrderHandler(w http.ResponseWriter, r *http.Request) {
	o, found, err := s.Sched.RequestBestSingleOrder(r.Context(), model.Strategy(r.URL.Query().Get("strategy")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": true, "order": o})
}

func (s *Server) SetDistanceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req model.SetDistanceRequest
	if !s.decode(w, r, &req) {
		return
	}
	o, err := s.Sched.SetDistance(r.Context(), id, req.DistanceKm)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// orderAction adapts the single-order lifecycle operations.
func (s *Server) orderAction(w http.ResponseWriter, r *http.Request, op func(*http.Request, int64) (any, error)) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := op(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) SelectOrderHandler(w http.ResponseWriter, r *http.Request) {
	s.orderAction(w, r, func(r *http.Request, id int64) (any, error) { return s.Sched.SelectOrder(r.Context(), id) })
}

func (s *Server) CancelSelectionHandler(w http.ResponseWriter, r *http.Request) {
	s.orderAction(w, r, func(r *http.Request, id int64) (any, error) { return s.Sched.CancelSelection(r.Context(), id) })
}

// CancelDeliveryHandler returns every order of the cancelled trip.
func (s *Server) CancelDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	s.orderAction(w, r, func(r *http.Request, id int64) (any, error) {
		orders, err := s.Sched.CancelDelivery(r.Context(), id)
		return map[string]any{"orders": orders}, err
	})
}

func (s *Server) MarkDeliveredHandler(w http.ResponseWriter, r *http.Request) {
	s.orderAction(w, r, func(r *http.Request, id int64) (any, error) { return s.Sched.MarkDelivered(r.Context(), id) })
}

func (s *Server) RemoveOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Sched.RemoveOrder(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveLocationHandler handles POST /v1/locations/resolve
func (s *Server) ResolveLocationHandler(w http.ResponseWriter, r *http.Request) {
	var req model.ResolveLocationRequest
	if !s.decode(w, r, &req) {
		return
	}
	updated, err := s.Sched.ResolveLocation(r.Context(), req.Key, model.GeoPoint{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

// BatchesHandler handles POST /v1/batches. An empty list means nothing is
// eligible right now.
func (s *Server) BatchesHandler(w http.ResponseWriter, r *http.Request) {
	var req model.BatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	batches, err := s.Sched.RequestBatches(r.Context(), dispatch.BatchOptions{
		MaxBatchSize: req.MaxBatchSize,
		Strategy:     req.Strategy,
		Partition:    req.Partition,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if batches == nil {
		batches = []*model.Batch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (s *Server) AddRiderHandler(w http.ResponseWriter, r *http.Request) {
	var req model.AddRiderRequest
	if !s.decode(w, r, &req) {
		return
	}
	rd, err := s.Sched.AddRider(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/riders/"+rd.ID)
	writeJSON(w, http.StatusCreated, rd)
}

func (s *Server) ListRidersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.Sched.ListRiders()})
}

func (s *Server) GetRiderHandler(w http.ResponseWriter, r *http.Request) {
	rd, err := s.Sched.GetRider(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) RemoveRiderHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Sched.RemoveRider(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AssignRiderHandler handles POST /v1/riders/{id}/assign. A busy rider
// answers 409 with the failure result; nothing changes.
func (s *Server) AssignRiderHandler(w http.ResponseWriter, r *http.Request) {
	var req model.AssignRequest
	if !s.decode(w, r, &req) {
		return
	}
	target := dispatch.AssignTarget{OrderIDs: req.OrderIDs, BatchID: req.BatchID}
	if req.OrderID != nil {
		target.OrderIDs = append([]int64{*req.OrderID}, target.OrderIDs...)
	}
	res, err := s.Sched.AssignRider(r.Context(), r.PathValue("id"), target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !res.OK {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReleaseRiderHandler marks a rider back at the depot.
func (s *Server) ReleaseRiderHandler(w http.ResponseWriter, r *http.Request) {
	delivered, err := s.Sched.ReleaseRider(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if delivered == nil {
		delivered = []model.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}

// HistoryHandler handles GET /v1/history?limit=
func (s *Server) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.Store.ListHistory(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	st := s.Sched.Stats()
	orders := map[string]int{}
	for k, v := range st.Orders {
		orders[string(k)] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"riders": map[string]int{"available": st.RidersAvailable, "busy": st.RidersBusy},
	})
}

// TickHandler runs one timer pass now and saves a snapshot.
func (s *Server) TickHandler(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Sched.Tick(r.Context(), s.Sched.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Store.SaveSnapshot(r.Context(), s.Sched.Snapshot()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
