package bridge

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/lumaworks/pulse/internal/logging"
	"github.com/lumaworks/pulse/pkg/domain"
)

// EventSink receives decoded domain events. Implemented by the realtime
// event router; declared here so the bridge can be tested without one.
type EventSink interface {
	SendToUser(userID string, messageType domain.MessageType, payload any)
	BroadcastToChannel(channel string, messageType domain.MessageType, payload any)
}

// Conn is the subset of the NATS connection the bridge uses
type Conn interface {
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// event is the NATS message body: the envelope type plus its payload.
// The target (user or channel) travels in the subject tail.
type event struct {
	Type    domain.MessageType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

// Bridge forwards domain events published on NATS subjects into the
// realtime fabric. Application services publish to
// `<prefix>.user.<userId>` or `<prefix>.channel.<channel>`.
type Bridge struct {
	nc     Conn
	sink   EventSink
	prefix string
	logger *logging.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewBridge creates a new ingress bridge
func NewBridge(nc Conn, sink EventSink, prefix string, logger *logging.Logger) *Bridge {
	return &Bridge{
		nc:     nc,
		sink:   sink,
		prefix: prefix,
		logger: logger,
	}
}

// Start subscribes to the user and channel subject trees
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	userSub, err := b.nc.Subscribe(b.prefix+".user.>", b.handleUser)
	if err != nil {
		return err
	}
	b.subs = append(b.subs, userSub)

	channelSub, err := b.nc.Subscribe(b.prefix+".channel.>", b.handleChannel)
	if err != nil {
		return err
	}
	b.subs = append(b.subs, channelSub)

	b.logger.Info("nats bridge started", "prefix", b.prefix)
	return nil
}

// Stop unsubscribes from all subjects
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("failed to unsubscribe", "error", err)
		}
	}
	b.subs = nil

	b.logger.Info("nats bridge stopped")
}

func (b *Bridge) handleUser(msg *nats.Msg) {
	userID := strings.TrimPrefix(msg.Subject, b.prefix+".user.")
	if userID == "" || userID == msg.Subject {
		b.logger.Warn("dropping event with malformed subject", "subject", msg.Subject)
		return
	}

	ev, ok := b.decode(msg)
	if !ok {
		return
	}

	b.sink.SendToUser(userID, ev.Type, ev.Payload)
}

func (b *Bridge) handleChannel(msg *nats.Msg) {
	channel := strings.TrimPrefix(msg.Subject, b.prefix+".channel.")
	if channel == "" || channel == msg.Subject {
		b.logger.Warn("dropping event with malformed subject", "subject", msg.Subject)
		return
	}

	ev, ok := b.decode(msg)
	if !ok {
		return
	}

	b.sink.BroadcastToChannel(channel, ev.Type, ev.Payload)
}

func (b *Bridge) decode(msg *nats.Msg) (event, bool) {
	var ev event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		b.logger.Warn("dropping malformed event",
			"subject", msg.Subject,
			"error", err,
		)
		return event{}, false
	}

	if ev.Type == "" {
		b.logger.Warn("dropping event without type", "subject", msg.Subject)
		return event{}, false
	}

	return ev, true
}
