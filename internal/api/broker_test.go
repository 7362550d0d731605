package api

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"riderdispatch/internal/model"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()

	evt := model.Event{ID: "evt_1", Type: model.EventOrderCreated, OrderIDs: []int64{1}}
	b.Publish(evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type || got.OrderIDs[0] != 1 {
			t.Fatalf("got %+v, want %+v", got, evt)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// A second unsubscribe is a no-op.
	b.Unsubscribe(ch)
	b.Publish(evt)
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)
	for i := 0; i < cap(ch)+10; i++ {
		b.Publish(model.Event{ID: "evt"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered %d, want %d", len(ch), cap(ch))
	}
}

func TestRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := NewRedisBroker(rdb)
	ch := b.Subscribe()
	b.Publish(model.Event{ID: "evt_2", Type: model.EventRiderReleased, RiderID: "r1"})

	select {
	case got := <-ch:
		if got.Type != model.EventRiderReleased || got.RiderID != "r1" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for redis event")
	}

	b.Unsubscribe(ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel close after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}
