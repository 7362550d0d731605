package api

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"riderdispatch/internal/model"
)

const redisEventsChannel = "dispatch:events"

// RedisBroker implements EventBroker over Redis Pub/Sub so every API
// replica streams the events of the one scheduler that produced them.
type RedisBroker struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[chan model.Event]*redis.PubSub
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb, subs: map[chan model.Event]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe() chan model.Event {
	ch := make(chan model.Event, 32)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, redisEventsChannel)
	// initial consume to ensure subscription
	if _, err := ps.Receive(ctx); err != nil {
		log.Printf("redis broker: subscribe: %v", err)
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Pub/Sub connection; ch is closed once its reader
// goroutine drains.
func (b *RedisBroker) Unsubscribe(ch chan model.Event) {
	b.mu.Lock()
	ps := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(evt model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, redisEventsChannel, data).Err(); err != nil {
		log.Printf("redis broker: publish %s: %v", evt.Type, err)
	}
}

func (b *RedisBroker) Notify(_ context.Context, evt model.Event) { b.Publish(evt) }
