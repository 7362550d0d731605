package dispatch

import (
	"context"
	"log"
	"time"
)

type ctxKey string

const requestIDKey ctxKey = "req_id"

// WithRequestID tags ctx so scheduler logs can be correlated with the
// request that caused them.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// timed logs the duration of op when the returned func is deferred.
func timed(ctx context.Context, op string) func(errp *error) {
	start := time.Now()
	return func(errp *error) {
		dur := time.Since(start)
		if errp != nil && *errp != nil {
			log.Printf("req_id=%s op=%s dur=%dms err=%v", RequestID(ctx), op, dur.Milliseconds(), *errp)
			return
		}
		log.Printf("req_id=%s op=%s dur=%dms", RequestID(ctx), op, dur.Milliseconds())
	}
}
