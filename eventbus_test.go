package qcache

import (
	"testing"

	"github.com/hashicorp/go-qcache/events"
	"github.com/stretchr/testify/assert"
)

func TestEventBusDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	b := NewEventBus()
	var got events.Event
	unsub := b.Subscribe(func(ev events.Event) { got = ev })
	defer unsub()

	b.Emit(events.QueryAdded{Hash: "h1"})

	qa, ok := got.(events.QueryAdded)
	assert.True(t, ok)
	assert.Equal(t, "h1", qa.Hash)
}

func TestEventBusUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	b := NewEventBus()
	var count int
	unsub := b.Subscribe(func(ev events.Event) { count++ })
	unsub()

	b.Emit(events.QueryAdded{Hash: "h1"})
	assert.Equal(t, 0, count)
}

func TestNilEventBusIsNoOp(t *testing.T) {
	t.Parallel()

	var b *EventBus
	assert.NotPanics(t, func() {
		b.Emit(events.QueryAdded{Hash: "h1"})
		unsub := b.Subscribe(func(events.Event) {})
		unsub()
	})
}

func TestQueryCacheEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	c := testCache(t)
	bus := NewEventBus()
	c.SetEventBus(bus)

	var seen []string
	bus.Subscribe(func(ev events.Event) {
		switch ev.(type) {
		case events.QueryAdded:
			seen = append(seen, "added")
		case events.QueryRemoved:
			seen = append(seen, "removed")
		}
	})

	q := c.Build("todos", QueryOptions{})
	c.Remove(q)

	assert.Equal(t, []string{"added", "removed"}, seen)
}
