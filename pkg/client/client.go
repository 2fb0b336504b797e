package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumaworks/pulse/internal/logging"
	"github.com/lumaworks/pulse/pkg/domain"
	"github.com/lumaworks/pulse/pkg/errors"
)

// State represents the client connection state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateBackoff      State = "backoff"
)

// Options represents client options
type Options struct {
	Logger        *logging.Logger
	Token         string
	AutoReconnect bool
	ReconnectWait time.Duration
	ReconnectMax  time.Duration
	MaxReconnect  int
	PingInterval  time.Duration
}

// DefaultOptions returns default client options
func DefaultOptions() Options {
	return Options{
		AutoReconnect: true,
		ReconnectWait: 1 * time.Second,
		ReconnectMax:  30 * time.Second,
		MaxReconnect:  10,
		PingInterval:  25 * time.Second,
	}
}

// Client connects to the realtime fabric, keeps the connection alive, and
// dispatches received events to registered handlers. Reconnection is an
// explicit state machine: Disconnected, Connecting, Connected, Backoff.
type Client struct {
	url        url.URL
	options    Options
	logger     *logging.Logger
	dispatcher *dispatcher

	mu          sync.RWMutex
	conn        *websocket.Conn
	state       State
	clientID    string
	userID      string
	established bool
	channels    map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new client for the given server URL
func New(serverURL url.URL, options Options) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	if options.Logger == nil {
		options.Logger = logging.FromContext(ctx)
	}

	return &Client{
		url:        serverURL,
		options:    options,
		logger:     options.Logger,
		dispatcher: newDispatcher(),
		state:      StateDisconnected,
		channels:   make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Connect establishes the connection and starts the read and ping loops
func (c *Client) Connect() error {
	c.setState(StateConnecting)

	if err := c.dial(); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return nil
}

// dial opens the websocket with the bearer token as a query parameter
func (c *Client) dial() error {
	u := c.url
	query := u.Query()
	query.Set("token", c.options.Token)
	u.RawQuery = query.Encode()

	c.logger.Info("connecting to realtime server", "url", c.url.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "DIAL_ERROR", "failed to connect to server")
	}

	c.mu.Lock()
	c.conn = conn
	c.established = false
	c.state = StateConnected
	c.mu.Unlock()

	return nil
}

// Close disconnects and stops all background loops
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}

	c.wg.Wait()
	return nil
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ClientID returns the connection identifier assigned by the server
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// UserID returns the authenticated identity confirmed by the server
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// IsEstablished reports whether the server has confirmed the admission
func (c *Client) IsEstablished() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.established
}

// WaitForEstablished waits until the server confirms the admission
func (c *Client) WaitForEstablished(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection not established within %s", timeout)
		case <-ticker.C:
			if c.IsEstablished() {
				return nil
			}
		}
	}
}

// On registers a handler for a message type and returns an unsubscribe
// function
func (c *Client) On(messageType domain.MessageType, handler EventHandler) func() {
	return c.dispatcher.add(messageType, handler)
}

// Subscribe asks the server to deliver broadcasts on the given channels.
// The channel set is remembered and replayed after a reconnect.
func (c *Client) Subscribe(channels ...string) error {
	c.mu.Lock()
	for _, channel := range channels {
		c.channels[channel] = struct{}{}
	}
	c.mu.Unlock()

	return c.sendEnvelope(domain.MessageTypeSubscribe, domain.SubscriptionPayload{Channels: channels})
}

// Unsubscribe stops delivery on the given channels
func (c *Client) Unsubscribe(channels ...string) error {
	c.mu.Lock()
	for _, channel := range channels {
		delete(c.channels, channel)
	}
	c.mu.Unlock()

	return c.sendEnvelope(domain.MessageTypeUnsubscribe, domain.SubscriptionPayload{Channels: channels})
}

// sendEnvelope builds and writes one outbound envelope
func (c *Client) sendEnvelope(messageType domain.MessageType, payload any) error {
	env, err := domain.NewEnvelope(messageType, payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal envelope")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return domain.ErrNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(env)
}

// readLoop reads envelopes until the connection drops, then hands off to
// the reconnect state machine
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}

			c.logger.Warn("connection lost", "error", err)

			if !c.options.AutoReconnect {
				c.setState(StateDisconnected)
				return
			}

			if !c.reconnect() {
				return
			}
			continue
		}

		env, err := domain.Unmarshal(raw)
		if err != nil {
			c.logger.Warn("dropping malformed envelope", "error", err)
			continue
		}

		c.handleEnvelope(env)
	}
}

// handleEnvelope records admission confirmations and dispatches the rest
func (c *Client) handleEnvelope(env domain.Envelope) {
	if env.Type == domain.MessageTypeConnectionEstablished {
		var payload domain.ConnectionEstablishedPayload
		if err := env.Decode(&payload); err != nil {
			c.logger.Warn("malformed admission confirmation", "error", err)
			return
		}

		c.mu.Lock()
		c.clientID = payload.ClientID
		c.userID = payload.UserID
		c.established = true
		channels := make([]string, 0, len(c.channels))
		for channel := range c.channels {
			channels = append(channels, channel)
		}
		c.mu.Unlock()

		c.logger.Info("connection established", "client_id", payload.ClientID)

		// Replay the desired subscription set after a reconnect.
		if len(channels) > 0 {
			if err := c.sendEnvelope(domain.MessageTypeSubscribe, domain.SubscriptionPayload{Channels: channels}); err != nil {
				c.logger.Warn("failed to restore subscriptions", "error", err)
			}
		}
	}

	c.dispatcher.dispatch(env)
}

// reconnect runs the backoff loop; it returns false when retries are
// exhausted or the client is closed
func (c *Client) reconnect() bool {
	for attempt := 1; c.options.MaxReconnect <= 0 || attempt <= c.options.MaxReconnect; attempt++ {
		c.setState(StateBackoff)

		wait := c.backoffWait(attempt)
		c.logger.Info("reconnecting", "attempt", attempt, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			c.setState(StateDisconnected)
			return false
		case <-timer.C:
		}

		c.setState(StateConnecting)
		if err := c.dial(); err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		return true
	}

	c.logger.Error("reconnect attempts exhausted")
	c.setState(StateDisconnected)
	return false
}

// backoffWait doubles the wait per attempt up to the configured ceiling
func (c *Client) backoffWait(attempt int) time.Duration {
	wait := c.options.ReconnectWait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= c.options.ReconnectMax {
			return c.options.ReconnectMax
		}
	}
	return wait
}

// pingLoop sends protocol-level heartbeats so the server refreshes this
// connection's liveness even when the transport pings are delayed
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.State() != StateConnected {
				continue
			}
			if err := c.sendEnvelope(domain.MessageTypePing, nil); err != nil {
				c.logger.Debug("heartbeat send failed", "error", err)
			}
		}
	}
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
