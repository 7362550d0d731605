package api

import (
	"context"
	"sync"

	"riderdispatch/internal/model"
)

// EventBroker fans scheduler events out to stream subscribers. Both
// implementations satisfy dispatch.Notifier through Notify.
type EventBroker interface {
	Subscribe() chan model.Event
	Unsubscribe(ch chan model.Event)
	Publish(evt model.Event)
	Notify(ctx context.Context, evt model.Event)
}

// Broker is the in-process EventBroker. Slow subscribers miss events
// rather than block the scheduler.
type Broker struct {
	mu   sync.Mutex
	subs map[chan model.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[chan model.Event]struct{}{}}
}

func (b *Broker) Subscribe() chan model.Event {
	ch := make(chan model.Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch chan model.Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Broker) Publish(evt model.Event) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}

func (b *Broker) Notify(_ context.Context, evt model.Event) { b.Publish(evt) }
