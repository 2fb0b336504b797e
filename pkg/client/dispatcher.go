package client

import (
	"sync"

	"github.com/lumaworks/pulse/pkg/domain"
)

// EventHandler handles one received envelope
type EventHandler func(env domain.Envelope)

// dispatcher fans received envelopes out to the handlers registered for
// their type. Registration returns a removal handle, so callers can drop
// a handler without affecting others on the same type.
type dispatcher struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[domain.MessageType]map[int]EventHandler
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		handlers: make(map[domain.MessageType]map[int]EventHandler),
	}
}

// add registers a handler and returns a function that removes it
func (d *dispatcher) add(messageType domain.MessageType, handler EventHandler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handlers[messageType] == nil {
		d.handlers[messageType] = make(map[int]EventHandler)
	}

	id := d.nextID
	d.nextID++
	d.handlers[messageType][id] = handler

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers[messageType], id)
	}
}

// dispatch invokes every handler registered for the envelope's type
func (d *dispatcher) dispatch(env domain.Envelope) {
	d.mu.RLock()
	handlers := make([]EventHandler, 0, len(d.handlers[env.Type]))
	for _, h := range d.handlers[env.Type] {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}
