package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"riderdispatch/internal/model"
)

// Notifier receives every event the scheduler emits. Implementations must
// not call back into the scheduler synchronously.
type Notifier interface {
	Notify(ctx context.Context, evt model.Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, evt model.Event)

func (f NotifierFunc) Notify(ctx context.Context, evt model.Event) { f(ctx, evt) }

// Notifiers fans an event out in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, evt model.Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, evt)
		}
	}
}

// LogNotifier writes one line per event.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, evt model.Event) {
	log.Printf("req_id=%s event=%s level=%s orders=%v rider=%s msg=%q",
		RequestID(ctx), evt.Type, evt.Level, evt.OrderIDs, evt.RiderID, evt.Message)
}

func newEvent(typ, level, msg string, now time.Time) model.Event {
	return model.Event{
		ID:      "evt_" + uuid.NewString(),
		Type:    typ,
		Level:   level,
		Message: msg,
		TS:      now.UTC().Format(time.RFC3339Nano),
	}
}
