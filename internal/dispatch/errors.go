package dispatch

import (
	"errors"
	"fmt"

	"riderdispatch/internal/fleet"
	"riderdispatch/internal/model"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrDuplicateExternalID = errors.New("duplicate external order id")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError reports an operation attempted from a status that does
// not allow it.
type TransitionError struct {
	OrderID int64
	Op      string
	From    model.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: order %d is %s", e.Op, e.OrderID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func notFound(id int64) error {
	return fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
}

// isRejection reports errors caused by the request rather than the system.
func isRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateExternalID) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, fleet.ErrRiderNotFound) ||
		errors.Is(err, fleet.ErrRiderBusy)
}
