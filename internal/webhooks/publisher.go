package webhooks

import (
	"context"
	"encoding/json"
	"log"

	"riderdispatch/internal/model"
	"riderdispatch/internal/store"
)

// Publisher queues scheduler events for every matching subscription. It
// satisfies dispatch.Notifier.
type Publisher struct {
	Store store.Outbox
}

func NewPublisher(s store.Outbox) *Publisher {
	return &Publisher{Store: s}
}

// Notify enqueues evt. The event id doubles as the dedup key, so emitting the
// same event twice queues one delivery per subscription.
func (p *Publisher) Notify(ctx context.Context, evt model.Event) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, evt.Type)
	if err != nil {
		log.Printf("webhooks: lookup subscriptions for %s: %v", evt.Type, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("webhooks: encode %s: %v", evt.ID, err)
		return
	}
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, evt.Type, s.URL, s.Secret, body); err != nil {
			log.Printf("webhooks: enqueue %s for %s: %v", evt.ID, s.URL, err)
		}
	}
}
