package qcache

import (
	"sync"

	"github.com/hashicorp/go-qcache/events"
)

// EventBus fans one stream of events.Event out to any number of
// subscribed events.Handler callbacks. It is the typed counterpart to
// QueryCache's plain CacheEvent listeners: CacheEvent is "a query was
// added/removed/updated" for cache-shape observers, while EventBus
// carries the finer-grained lifecycle trace (fetch attempts, retry
// pauses, cancellations) via the events package, mirroring the
// teacher's own events.Handler plumbing. A nil *EventBus is valid and
// every method on it is a no-op, so wiring one in is opt-in.
type EventBus struct {
	mux      sync.Mutex
	handlers []events.Handler
}

// NewEventBus constructs an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers h to receive every emitted event; the returned
// func unregisters it.
func (b *EventBus) Subscribe(h events.Handler) func() {
	if b == nil {
		return func() {}
	}
	b.mux.Lock()
	b.handlers = append(b.handlers, h)
	idx := len(b.handlers) - 1
	b.mux.Unlock()

	return func() {
		b.mux.Lock()
		defer b.mux.Unlock()
		if idx < len(b.handlers) {
			b.handlers[idx] = nil
		}
	}
}

// Emit delivers ev to every subscribed handler. A nil receiver (the
// default for components that never had an EventBus installed) makes
// this a no-op.
func (b *EventBus) Emit(ev events.Event) {
	if b == nil {
		return
	}
	b.mux.Lock()
	handlers := make([]events.Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mux.Unlock()

	for _, h := range handlers {
		if h != nil {
			h(ev)
		}
	}
}
