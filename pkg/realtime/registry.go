package realtime

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/lumaworks/pulse/internal/eventbus"
	"github.com/lumaworks/pulse/internal/logging"
	"github.com/lumaworks/pulse/pkg/domain"
)

// Connection is a live admitted socket. The registry owns the mapping from
// connection ID to Connection; the wire is owned by the connection it
// belongs to, one-to-one.
type Connection struct {
	id     string
	userID string
	wire   Wire
}

// ID returns the connection identifier assigned at admission
func (c *Connection) ID() string {
	return c.id
}

// UserID returns the authenticated identity that owns this connection
func (c *Connection) UserID() string {
	return c.userID
}

// Send queues an envelope for delivery to this connection
func (c *Connection) Send(env domain.Envelope) error {
	return c.wire.WriteEnvelope(env)
}

// Ping sends a transport-level liveness probe
func (c *Connection) Ping() error {
	return c.wire.WritePing()
}

// Pong answers a protocol-level ping at the transport level
func (c *Connection) Pong() error {
	return c.wire.WritePong()
}

// Close tears down the underlying transport
func (c *Connection) Close(code int, reason string) error {
	return c.wire.Close(code, reason)
}

// entry is the registry's bookkeeping for one connection. Subscriptions
// and the heartbeat timestamp live here, not on the Connection: the
// registry is their single source of truth.
type entry struct {
	conn          *Connection
	subscriptions map[string]struct{}
	lastHeartbeat time.Time
}

// Registry tracks the set of live connections, their subscriptions, and
// their last confirmed heartbeat. All state is in-memory and rebuilt from
// nothing on process restart.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *logging.Logger
	bus     eventbus.Bus
	now     func() time.Time
}

// NewRegistry creates a new connection registry. The bus may be nil when
// lifecycle events are not needed.
func NewRegistry(logger *logging.Logger, bus eventbus.Bus) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
		bus:     bus,
		now:     time.Now,
	}
}

// Admit creates a registry entry for an authenticated wire and confirms the
// admission to the client with a connection_established envelope.
func (r *Registry) Admit(wire Wire, userID string) *Connection {
	conn := &Connection{
		id:     userID + ":" + xid.New().String(),
		userID: userID,
		wire:   wire,
	}

	r.mu.Lock()
	r.entries[conn.id] = &entry{
		conn:          conn,
		subscriptions: make(map[string]struct{}),
		lastHeartbeat: r.now(),
	}
	total := len(r.entries)
	r.mu.Unlock()

	env, err := domain.NewEnvelope(domain.MessageTypeConnectionEstablished, domain.ConnectionEstablishedPayload{
		ClientID: conn.id,
		UserID:   userID,
	})
	if err == nil {
		env.UserID = userID
		if err := conn.Send(env); err != nil {
			r.logger.Warn("failed to confirm admission", "connection_id", conn.id, "error", err)
		}
	}

	r.logger.Info("connection admitted",
		"connection_id", conn.id,
		"user_id", userID,
		"total_connections", total,
	)

	r.publish(eventbus.EventConnectionAdmitted, conn.id, userID)

	return conn
}

// Remove deletes the connection entry unconditionally; removing an unknown
// ID is a no-op.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	e, ok := r.entries[connectionID]
	if ok {
		delete(r.entries, connectionID)
	}
	total := len(r.entries)
	r.mu.Unlock()

	if !ok {
		return
	}

	r.logger.Info("connection removed",
		"connection_id", connectionID,
		"user_id", e.conn.userID,
		"total_connections", total,
	)

	r.publish(eventbus.EventConnectionClosed, connectionID, e.conn.userID)
}

// Subscribe adds the channels to the connection's subscription set.
// Re-subscribing to a present channel is a no-op; an unknown connection ID
// is ignored (the connection raced a close) and false is returned.
func (r *Registry) Subscribe(connectionID string, channels []string) bool {
	r.mu.Lock()
	e, ok := r.entries[connectionID]
	if ok {
		for _, channel := range channels {
			e.subscriptions[channel] = struct{}{}
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.logger.Debug("subscribed", "connection_id", connectionID, "channels", channels)
	r.publish(eventbus.EventSubscriptionChange, connectionID, e.conn.userID)

	return true
}

// Unsubscribe removes the channels from the connection's subscription set;
// channels not currently subscribed are ignored.
func (r *Registry) Unsubscribe(connectionID string, channels []string) {
	r.mu.Lock()
	e, ok := r.entries[connectionID]
	if ok {
		for _, channel := range channels {
			delete(e.subscriptions, channel)
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.logger.Debug("unsubscribed", "connection_id", connectionID, "channels", channels)
	r.publish(eventbus.EventSubscriptionChange, connectionID, e.conn.userID)
}

// Subscriptions returns a snapshot of the connection's subscription set
func (r *Registry) Subscriptions(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[connectionID]
	if !ok {
		return nil
	}

	channels := make([]string, 0, len(e.subscriptions))
	for channel := range e.subscriptions {
		channels = append(channels, channel)
	}
	return channels
}

// TouchHeartbeat records a confirmed liveness signal for the connection
func (r *Registry) TouchHeartbeat(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[connectionID]; ok {
		e.lastHeartbeat = r.now()
	}
}

// FindByUser returns all live connections owned by the user
func (r *Registry) FindByUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, e := range r.entries {
		if e.conn.userID == userID {
			conns = append(conns, e.conn)
		}
	}
	return conns
}

// FindByChannel returns all live connections subscribed to the channel
func (r *Registry) FindByChannel(channel string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, e := range r.entries {
		if _, ok := e.subscriptions[channel]; ok {
			conns = append(conns, e.conn)
		}
	}
	return conns
}

// Connections returns all live connections
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.entries))
	for _, e := range r.entries {
		conns = append(conns, e.conn)
	}
	return conns
}

// Sweep partitions live connections into those whose last heartbeat is
// older than the timeout and those still within it
func (r *Registry) Sweep(timeout time.Duration) (stale, live []*Connection) {
	cutoff := r.now().Add(-timeout)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.lastHeartbeat.Before(cutoff) {
			stale = append(stale, e.conn)
		} else {
			live = append(live, e.conn)
		}
	}
	return stale, live
}

// Stats returns a read-only diagnostic view of the registry
func (r *Registry) Stats() domain.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perUser := make(map[string]int)
	for _, e := range r.entries {
		perUser[e.conn.userID]++
	}

	return domain.RegistryStats{
		TotalConnections: len(r.entries),
		PerUserCounts:    perUser,
	}
}

func (r *Registry) publish(eventType eventbus.EventType, connectionID, userID string) {
	if r.bus == nil {
		return
	}

	event := eventbus.NewEvent(eventType, "registry", nil).
		WithMetadata("connection_id", connectionID).
		WithMetadata("user_id", userID)
	r.bus.PublishAsync(event)
}
