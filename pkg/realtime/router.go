package realtime

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumaworks/pulse/internal/eventbus"
	"github.com/lumaworks/pulse/internal/logging"
	"github.com/lumaworks/pulse/internal/metrics"
	"github.com/lumaworks/pulse/pkg/domain"
)

// Router is the single entry point application code uses to push a domain
// event to the right connections. Sends are fire-and-forget: a call that
// matches zero connections drops the event, and a write failure on one
// connection never affects delivery to the rest.
type Router struct {
	registry *Registry
	logger   *logging.Logger
	bus      eventbus.Bus
	metrics  *metrics.Metrics

	delivered atomic.Int64
	startTime time.Time
}

// NewRouter creates a new event router. The bus and metrics may be nil.
func NewRouter(registry *Registry, logger *logging.Logger, bus eventbus.Bus, m *metrics.Metrics) *Router {
	return &Router{
		registry:  registry,
		logger:    logger,
		bus:       bus,
		metrics:   m,
		startTime: time.Now(),
	}
}

// SendToUser delivers an event to every live connection owned by the user.
// Zero matching connections is not an error; the event is dropped.
func (rt *Router) SendToUser(userID string, messageType domain.MessageType, payload any) {
	env, err := domain.NewEnvelope(messageType, payload)
	if err != nil {
		rt.logger.Error("failed to build envelope", "type", messageType, "error", err)
		return
	}
	env.UserID = userID

	rt.deliver(rt.registry.FindByUser(userID), env)
}

// BroadcastToChannel delivers an event to every connection subscribed to
// the channel. Zero subscribers is not an error; the event is dropped.
func (rt *Router) BroadcastToChannel(channel string, messageType domain.MessageType, payload any) {
	env, err := domain.NewEnvelope(messageType, payload)
	if err != nil {
		rt.logger.Error("failed to build envelope", "type", messageType, "error", err)
		return
	}

	rt.deliver(rt.registry.FindByChannel(channel), env)
}

// deliver fans an envelope out to the target connections. A failed write
// removes that connection from the registry and moves on.
func (rt *Router) deliver(conns []*Connection, env domain.Envelope) {
	for _, conn := range conns {
		if err := conn.Send(env); err != nil {
			rt.logger.Warn("delivery failed, removing connection",
				"connection_id", conn.ID(),
				"type", env.Type,
				"error", err,
			)

			rt.registry.Remove(conn.ID())
			conn.Close(websocket.CloseGoingAway, "delivery failure")

			if rt.metrics != nil {
				rt.metrics.DeliveryFailures.Inc()
			}
			if rt.bus != nil {
				event := eventbus.NewEvent(eventbus.EventDeliveryFailed, "router", nil).
					WithMetadata("connection_id", conn.ID())
				rt.bus.PublishAsync(event)
			}
			continue
		}

		rt.delivered.Add(1)
		if rt.metrics != nil {
			rt.metrics.EventsDelivered.WithLabelValues(string(env.Type)).Inc()
		}
	}
}

// GenerationProgress notifies a user of image/video generation job progress
func (rt *Router) GenerationProgress(userID string, payload domain.GenerationProgressPayload) {
	rt.SendToUser(userID, domain.MessageTypeGenerationProgress, payload)
}

// TrainingProgress notifies a user of model training job progress
func (rt *Router) TrainingProgress(userID string, payload domain.TrainingProgressPayload) {
	rt.SendToUser(userID, domain.MessageTypeTrainingProgress, payload)
}

// CreditBalanceUpdate notifies a user of a credit balance change
func (rt *Router) CreditBalanceUpdate(userID string, newBalance int64, transaction json.RawMessage) {
	rt.SendToUser(userID, domain.MessageTypeCreditBalanceUpdate, domain.CreditBalancePayload{
		UserID:      userID,
		NewBalance:  newBalance,
		Transaction: transaction,
	})
}

// FeedUpdate broadcasts a social feed change to a channel's subscribers
func (rt *Router) FeedUpdate(channel string, payload domain.FeedUpdatePayload) {
	rt.BroadcastToChannel(channel, domain.MessageTypeFeedUpdate, payload)
}

// Notify sends a generic notification object to a user
func (rt *Router) Notify(userID string, notification any) {
	rt.SendToUser(userID, domain.MessageTypeNotification, notification)
}

// Delivered returns the number of envelopes delivered since startup
func (rt *Router) Delivered() int64 {
	return rt.delivered.Load()
}

// Uptime returns the seconds elapsed since the router was created
func (rt *Router) Uptime() float64 {
	return time.Since(rt.startTime).Seconds()
}
