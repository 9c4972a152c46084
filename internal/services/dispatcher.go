package services

import (
	"sync"

	"auction-live/internal/protocol"
	"auction-live/pkg/logger"
)

// Handler receives a decoded inbound frame. Handlers for one kind run in
// registration order; a panicking handler never blocks the ones after it.
type Handler func(msg *protocol.Message)

type subscription struct {
	id      uint64
	handler Handler
}

// Dispatcher fans inbound protocol messages out to registered listeners.
// It is the sole path by which server frames reach any other component.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[protocol.Kind][]subscription
	nextID   uint64
	log      logger.Logger
}

func NewDispatcher(log logger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[protocol.Kind][]subscription),
		log:      log,
	}
}

// On registers a handler and returns its unsubscribe func. Unsubscribe is
// idempotent and safe after the underlying connection has closed.
func (d *Dispatcher) On(kind protocol.Kind, handler Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.handlers[kind] = append(d.handlers[kind], subscription{id: id, handler: handler})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		subs := d.handlers[kind]
		for i, sub := range subs {
			if sub.id == id {
				d.handlers[kind] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(d.handlers[kind]) == 0 {
			delete(d.handlers, kind)
		}
	}
}

// Dispatch delivers one message to every handler registered for its kind.
// Called from the session read loop, so deliveries are serialized.
func (d *Dispatcher) Dispatch(msg *protocol.Message) {
	d.mu.Lock()
	subs := make([]subscription, len(d.handlers[msg.Kind]))
	copy(subs, d.handlers[msg.Kind])
	d.mu.Unlock()

	for _, sub := range subs {
		d.deliver(sub, msg)
	}
}

func (d *Dispatcher) deliver(sub subscription, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Event handler panicked", "kind", msg.Kind, "panic", r)
		}
	}()
	sub.handler(msg)
}
