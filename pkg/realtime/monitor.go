package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumaworks/pulse/internal/eventbus"
	"github.com/lumaworks/pulse/internal/logging"
)

// MonitorOptions represents heartbeat monitor configuration
type MonitorOptions struct {
	// Interval is how often the monitor sweeps all live connections
	Interval time.Duration

	// Timeout is how long a connection may go without a confirmed
	// heartbeat before eviction. A connection can survive up to one full
	// timeout window past its last real heartbeat; that slack tolerates
	// transient scheduling delays and is intentional.
	Timeout time.Duration
}

// DefaultMonitorOptions returns default monitor options
func DefaultMonitorOptions() MonitorOptions {
	return MonitorOptions{
		Interval: 15 * time.Second,
		Timeout:  30 * time.Second,
	}
}

// Monitor detects and prunes connections whose transport has silently died
type Monitor struct {
	registry *Registry
	options  MonitorOptions
	logger   *logging.Logger
	bus      eventbus.Bus
}

// NewMonitor creates a new heartbeat monitor. The bus may be nil.
func NewMonitor(registry *Registry, options MonitorOptions, logger *logging.Logger, bus eventbus.Bus) *Monitor {
	return &Monitor{
		registry: registry,
		options:  options,
		logger:   logger,
		bus:      bus,
	}
}

// Run sweeps on a fixed interval until the context is canceled
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.options.Interval)
	defer ticker.Stop()

	m.logger.Info("heartbeat monitor started",
		"interval", m.options.Interval,
		"timeout", m.options.Timeout,
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep evicts connections past the heartbeat timeout and probes the rest
// so responsive clients refresh their heartbeat before the next tick
func (m *Monitor) sweep() {
	stale, live := m.registry.Sweep(m.options.Timeout)

	for _, conn := range stale {
		m.logger.Warn("evicting stale connection",
			"connection_id", conn.ID(),
			"user_id", conn.UserID(),
		)

		m.registry.Remove(conn.ID())
		conn.Close(websocket.CloseGoingAway, "heartbeat timeout")

		if m.bus != nil {
			event := eventbus.NewEvent(eventbus.EventConnectionEvicted, "monitor", nil).
				WithMetadata("connection_id", conn.ID()).
				WithMetadata("user_id", conn.UserID())
			m.bus.PublishAsync(event)
		}
	}

	for _, conn := range live {
		if err := conn.Ping(); err != nil {
			m.logger.Debug("liveness probe failed",
				"connection_id", conn.ID(),
				"error", err,
			)
		}
	}
}
