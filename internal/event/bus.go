package event

import (
	"sync"
)

// Handler receives progress events. Implementations switch over the
// concrete event types they care about and ignore the rest.
type Handler interface {
	Handle(event Event)
}

// Sink accepts emitted events. Bus is the fan-out implementation;
// Discard swallows everything for callers that do not wire reporting.
type Sink interface {
	Emit(event Event)
}

// Bus is a thread-safe fan-out of progress events to subscribed handlers.
// Dispatch is synchronous and happens in the emitting goroutine: handlers
// registered first are invoked first, and a slow handler back-pressures
// the emitter.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty Bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler. Safe to call while events are emitting;
// the handler starts receiving events from the next Emit.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Unsubscribe removes a previously subscribed handler
func (b *Bus) Unsubscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h == handler {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			break
		}
	}
}

// Emit delivers the event to every handler subscribed at emit time.
// The handler list is snapshotted under the lock so subscriptions and
// removals during dispatch cannot corrupt the loop.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h.Handle(event)
	}
}

// Discard is a Sink that drops every event
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(event Event) {}

// OrDiscard returns the sink unchanged, or Discard when nil. Constructors
// use it so callers can leave event wiring out entirely.
func OrDiscard(sink Sink) Sink {
	if sink == nil {
		return Discard
	}
	return sink
}
