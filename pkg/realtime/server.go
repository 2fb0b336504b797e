package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumaworks/pulse/internal/eventbus"
	"github.com/lumaworks/pulse/internal/logging"
	"github.com/lumaworks/pulse/pkg/auth"
)

// ServerOptions represents websocket server options
type ServerOptions struct {
	// ReadTimeout is the read deadline window; it must exceed the
	// heartbeat timeout so the monitor, not the transport, decides
	// eviction
	ReadTimeout     time.Duration
	VerifyTimeout   time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	Wire            WireOptions
	CheckOrigin     func(r *http.Request) bool
}

// DefaultServerOptions returns default server options
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		ReadTimeout:     60 * time.Second,
		VerifyTimeout:   5 * time.Second,
		MaxMessageSize:  512 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Wire:            DefaultWireOptions(),
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins by default (configure for production)
		},
	}
}

// ServerOption is a function that configures a Server
type ServerOption func(*Server)

// WithOptions sets the server options
func WithOptions(options ServerOptions) ServerOption {
	return func(s *Server) {
		s.options = options
	}
}

// WithEventBus sets the lifecycle event bus
func WithEventBus(bus eventbus.Bus) ServerOption {
	return func(s *Server) {
		s.bus = bus
	}
}

// Server authenticates incoming upgrade requests and pumps admitted
// connections into the registry and dispatcher
type Server struct {
	upgrader   websocket.Upgrader
	registry   *Registry
	dispatcher *Dispatcher
	verifier   auth.Verifier
	logger     *logging.Logger
	bus        eventbus.Bus
	options    ServerOptions
}

// NewServer creates a new websocket server
func NewServer(registry *Registry, dispatcher *Dispatcher, verifier auth.Verifier, logger *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		registry:   registry,
		dispatcher: dispatcher,
		verifier:   verifier,
		logger:     logger,
		options:    DefaultServerOptions(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  s.options.ReadBufferSize,
		WriteBufferSize: s.options.WriteBufferSize,
		CheckOrigin:     s.options.CheckOrigin,
	}

	return s
}

// ServeHTTP implements http.Handler. The authentication gate runs before
// the upgrade: a request without a valid token is refused and no
// connection state is ever created for it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		s.reject(w, r, "missing token", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.options.VerifyTimeout)
	userID, err := s.verifier.Verify(ctx, token)
	cancel()
	if err != nil {
		s.reject(w, r, "token verification failed", err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	wire := NewWire(conn, s.logger.WithFields(map[string]any{"user_id": userID}), s.options.Wire)
	client := s.registry.Admit(wire, userID)

	s.logger.Info("client connected",
		"connection_id", client.ID(),
		"user_id", userID,
		"remote_addr", r.RemoteAddr,
	)

	s.readPump(r.Context(), client, conn)

	s.registry.Remove(client.ID())
	wire.Close(websocket.CloseNormalClosure, "")

	s.logger.Info("client disconnected", "connection_id", client.ID())
}

// reject refuses the upgrade before any connection state exists
func (s *Server) reject(w http.ResponseWriter, r *http.Request, reason string, err error) {
	s.logger.Warn("connection rejected",
		"reason", reason,
		"remote_addr", r.RemoteAddr,
		"error", err,
	)

	if s.bus != nil {
		event := eventbus.NewEvent(eventbus.EventAuthRejected, "server", nil).
			WithMetadata("reason", reason)
		s.bus.PublishAsync(event)
	}

	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// readPump reads inbound messages until the transport closes or errors.
// Pong frames refresh both the read deadline and the registry heartbeat,
// so responsive clients are never evicted.
func (s *Server) readPump(ctx context.Context, client *Connection, conn *websocket.Conn) {
	conn.SetReadLimit(s.options.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.options.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		s.registry.TouchHeartbeat(client.ID())
		return conn.SetReadDeadline(time.Now().Add(s.options.ReadTimeout))
	})

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error("websocket read error", "connection_id", client.ID(), "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		s.dispatcher.Dispatch(ctx, client, raw)
	}
}
