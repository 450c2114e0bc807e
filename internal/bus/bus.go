// Package bus provides the in-process typed pub/sub fabric connecting
// channel adapters to the agent runtime.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrBusClosed is returned by Subscribe after Close.
var ErrBusClosed = errors.New("message bus is closed")

// Handler processes one event. A returned error is logged and isolated:
// it never reaches the publisher and never stops delivery to other handlers.
type Handler func(Event) error

// MessageBus is a synchronous typed pub/sub bus. Delivery happens inside
// Publish: all handlers for the event's kind are invoked before Publish
// returns. Handlers must not block for long.
type MessageBus struct {
	mu       sync.RWMutex
	closed   bool
	nextID   int
	handlers map[string]map[int]Handler // kind → subscription id → handler
}

// NewMessageBus creates an empty bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		handlers: make(map[string]map[int]Handler),
	}
}

// Subscribe registers a handler for an event kind and returns its
// subscription id. Fails with ErrBusClosed after Close.
func (b *MessageBus) Subscribe(kind string, h Handler) (int, error) {
	if h == nil {
		return 0, fmt.Errorf("nil handler for kind %q", kind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrBusClosed
	}
	b.nextID++
	id := b.nextID
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[int]Handler)
	}
	b.handlers[kind][id] = h
	return id, nil
}

// Unsubscribe removes a previously registered handler. Unknown ids are a no-op.
func (b *MessageBus) Unsubscribe(kind string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.handlers[kind]; ok {
		delete(subs, id)
	}
}

// Publish delivers the event to every handler registered for its kind.
// After Close, Publish is a no-op.
func (b *MessageBus) Publish(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	// Snapshot so handlers can subscribe/unsubscribe without deadlocking.
	subs := b.handlers[ev.Kind]
	handlers := make([]Handler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ev, h)
	}
}

// PublishInbound is a convenience wrapper for channel adapters.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.Publish(Event{Kind: KindInbound, Inbound: &msg})
}

// PublishOutbound is a convenience wrapper for the agent runtime.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.Publish(Event{Kind: KindOutbound, Outbound: &msg})
}

// invoke runs one handler, containing errors and panics so a misbehaving
// subscriber cannot break delivery to the others.
func (b *MessageBus) invoke(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus handler panicked", "kind", ev.Kind, "panic", r)
		}
	}()
	if err := h(ev); err != nil {
		slog.Error("bus handler failed", "kind", ev.Kind, "error", err)
	}
}

// Close marks the bus closed. Subsequent publishes are dropped and
// subscriptions rejected.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.handlers = make(map[string]map[int]Handler)
}
