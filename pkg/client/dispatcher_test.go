package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumaworks/pulse/pkg/domain"
)

func TestDispatcher_DispatchByType(t *testing.T) {
	d := newDispatcher()

	var notifications, feeds int
	d.add(domain.MessageTypeNotification, func(domain.Envelope) { notifications++ })
	d.add(domain.MessageTypeFeedUpdate, func(domain.Envelope) { feeds++ })

	d.dispatch(domain.Envelope{Type: domain.MessageTypeNotification})
	d.dispatch(domain.Envelope{Type: domain.MessageTypeNotification})
	d.dispatch(domain.Envelope{Type: domain.MessageTypeFeedUpdate})

	assert.Equal(t, 2, notifications)
	assert.Equal(t, 1, feeds)
}

func TestDispatcher_MultipleHandlersSameType(t *testing.T) {
	d := newDispatcher()

	var first, second int
	d.add(domain.MessageTypeNotification, func(domain.Envelope) { first++ })
	d.add(domain.MessageTypeNotification, func(domain.Envelope) { second++ })

	d.dispatch(domain.Envelope{Type: domain.MessageTypeNotification})

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestDispatcher_RemovalHandle(t *testing.T) {
	d := newDispatcher()

	var kept, removed int
	d.add(domain.MessageTypeNotification, func(domain.Envelope) { kept++ })
	off := d.add(domain.MessageTypeNotification, func(domain.Envelope) { removed++ })

	d.dispatch(domain.Envelope{Type: domain.MessageTypeNotification})
	off()
	d.dispatch(domain.Envelope{Type: domain.MessageTypeNotification})

	assert.Equal(t, 2, kept)
	assert.Equal(t, 1, removed)

	// Removing twice is harmless.
	off()
}

func TestDispatcher_NoHandlers(t *testing.T) {
	d := newDispatcher()
	d.dispatch(domain.Envelope{Type: domain.MessageTypeFeedUpdate})
}
