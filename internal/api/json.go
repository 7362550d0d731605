package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"riderdispatch/internal/dispatch"
	"riderdispatch/internal/fleet"
	"riderdispatch/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Field is set for validation failures.
	Field string `json:"field,omitempty"`
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps scheduler and store errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *dispatch.ValidationError
	switch {
	case errors.As(err, &ve):
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(Problem{
			Type: "about:blank", Title: "Validation failed", Status: http.StatusBadRequest,
			Detail: err.Error(), Instance: r.URL.Path, Field: ve.Field,
		})
	case errors.Is(err, dispatch.ErrValidation):
		writeProblem(w, http.StatusBadRequest, "Validation failed", err.Error(), r.URL.Path)
	case errors.Is(err, dispatch.ErrOrderNotFound):
		writeProblem(w, http.StatusNotFound, "Order not found", err.Error(), r.URL.Path)
	case errors.Is(err, fleet.ErrRiderNotFound):
		writeProblem(w, http.StatusNotFound, "Rider not found", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	case errors.Is(err, dispatch.ErrDuplicateExternalID):
		writeProblem(w, http.StatusConflict, "Duplicate order", err.Error(), r.URL.Path)
	case errors.Is(err, dispatch.ErrInvalidTransition):
		writeProblem(w, http.StatusConflict, "Invalid status transition", err.Error(), r.URL.Path)
	case errors.Is(err, fleet.ErrRiderBusy):
		writeProblem(w, http.StatusConflict, "Rider busy", err.Error(), r.URL.Path)
	default:
		log.Printf("req_id=%s path=%s err=%v", dispatch.RequestID(r.Context()), r.URL.Path, err)
		writeProblem(w, http.StatusInternalServerError, "Internal error", "", r.URL.Path)
	}
}

// decode reads a JSON body into v and runs struct validation. It writes the
// problem response itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeValidation(w, r, err)
		return false
	}
	return true
}

func writeValidation(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		writeProblem(w, http.StatusBadRequest, "Validation failed", err.Error(), r.URL.Path)
		return
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	writeError(w, r, &dispatch.ValidationError{Field: jsonField(verrs[0]), Reason: strings.Join(msgs, "; ")})
}

func describeField(fe validator.FieldError) string {
	name := jsonField(fe)
	switch fe.Tag() {
	case "required", "required_without":
		return name + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	case "gte", "lte", "gt", "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", name, fe.Tag(), fe.Param())
	case "url":
		return name + " must be a URL"
	}
	return fmt.Sprintf("%s failed %s", name, fe.Tag())
}

// jsonField is the first path element after the struct name, using the
// JSON tag name registered on the validator.
func jsonField(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
