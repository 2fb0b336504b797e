package realtime

import (
	"context"

	"github.com/lumaworks/pulse/internal/logging"
	"github.com/lumaworks/pulse/internal/metrics"
	"github.com/lumaworks/pulse/pkg/domain"
)

// HandlerFunc processes one inbound envelope from a connection
type HandlerFunc func(ctx context.Context, conn *Connection, env domain.Envelope) error

// Dispatcher parses inbound envelopes and routes them to the handler
// registered for their type. A malformed or unrecognized message is logged
// and dropped; it never closes the connection.
type Dispatcher struct {
	registry *Registry
	handlers map[domain.MessageType]HandlerFunc
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a dispatcher with the protocol's built-in inbound
// handlers registered. The metrics may be nil.
func NewDispatcher(registry *Registry, logger *logging.Logger, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		handlers: make(map[domain.MessageType]HandlerFunc),
		logger:   logger,
		metrics:  m,
	}

	d.Register(domain.MessageTypeSubscribe, d.handleSubscribe)
	d.Register(domain.MessageTypeUnsubscribe, d.handleUnsubscribe)
	d.Register(domain.MessageTypePing, d.handlePing)

	return d
}

// Register registers a handler for an inbound message type
func (d *Dispatcher) Register(messageType domain.MessageType, handler HandlerFunc) {
	d.handlers[messageType] = handler
}

// Dispatch parses and routes one raw inbound message
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Connection, raw []byte) {
	env, err := domain.Unmarshal(raw)
	if err != nil {
		d.logger.Warn("dropping malformed message",
			"connection_id", conn.ID(),
			"error", err,
		)
		return
	}

	if d.metrics != nil {
		d.metrics.InboundMessages.WithLabelValues(string(env.Type)).Inc()
	}

	handler, ok := d.handlers[env.Type]
	if !ok {
		d.logger.Warn("dropping message with unrecognized type",
			"connection_id", conn.ID(),
			"type", env.Type,
		)
		return
	}

	if err := handler(ctx, conn, env); err != nil {
		d.logger.Warn("inbound handler error",
			"connection_id", conn.ID(),
			"type", env.Type,
			"error", err,
		)
	}
}

func (d *Dispatcher) handleSubscribe(_ context.Context, conn *Connection, env domain.Envelope) error {
	var payload domain.SubscriptionPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}

	if !d.registry.Subscribe(conn.ID(), payload.Channels) {
		// Connection raced a close; nothing to confirm.
		return nil
	}

	confirmation, err := domain.NewEnvelope(domain.MessageTypeSubscriptionConfirmed, domain.SubscriptionConfirmedPayload{
		Channels: payload.Channels,
	})
	if err != nil {
		return err
	}

	return conn.Send(confirmation)
}

func (d *Dispatcher) handleUnsubscribe(_ context.Context, conn *Connection, env domain.Envelope) error {
	var payload domain.SubscriptionPayload
	if err := env.Decode(&payload); err != nil {
		return err
	}

	d.registry.Unsubscribe(conn.ID(), payload.Channels)
	return nil
}

func (d *Dispatcher) handlePing(_ context.Context, conn *Connection, _ domain.Envelope) error {
	d.registry.TouchHeartbeat(conn.ID())
	return conn.Pong()
}
