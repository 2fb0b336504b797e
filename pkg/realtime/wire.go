package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumaworks/pulse/internal/logging"
	"github.com/lumaworks/pulse/pkg/domain"
)

// Wire is the transport handle owned by exactly one registered connection.
// Envelope writes are queued to a pump goroutine; control frames go out
// directly (gorilla allows WriteControl concurrently with the writer).
type Wire interface {
	// WriteEnvelope queues an envelope for delivery; never blocks
	WriteEnvelope(env domain.Envelope) error

	// WritePing sends a transport-level liveness probe
	WritePing() error

	// WritePong answers a protocol-level ping at the transport level
	WritePong() error

	// Close sends a close frame and tears the transport down
	Close(code int, reason string) error
}

// WireOptions represents transport options for a single connection
type WireOptions struct {
	WriteTimeout time.Duration
	SendBuffer   int
}

// DefaultWireOptions returns default wire options
func DefaultWireOptions() WireOptions {
	return WireOptions{
		WriteTimeout: 10 * time.Second,
		SendBuffer:   256,
	}
}

type wsWire struct {
	conn     *websocket.Conn
	sendChan chan domain.Envelope
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logging.Logger
	options  WireOptions
	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
}

// NewWire wraps a websocket connection and starts its write pump
func NewWire(conn *websocket.Conn, logger *logging.Logger, options WireOptions) Wire {
	ctx, cancel := context.WithCancel(context.Background())

	w := &wsWire{
		conn:     conn,
		sendChan: make(chan domain.Envelope, options.SendBuffer),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		options:  options,
	}

	w.wg.Add(1)
	go w.writePump()

	return w
}

// WriteEnvelope implements Wire
func (w *wsWire) WriteEnvelope(env domain.Envelope) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return domain.ErrConnectionClosed
	}
	w.mu.Unlock()

	select {
	case w.sendChan <- env:
		return nil
	case <-w.ctx.Done():
		return domain.ErrConnectionClosed
	default:
		return domain.ErrSendBufferFull
	}
}

// WritePing implements Wire
func (w *wsWire) WritePing() error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.options.WriteTimeout))
}

// WritePong implements Wire
func (w *wsWire) WritePong() error {
	return w.conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(w.options.WriteTimeout))
}

// Close implements Wire
func (w *wsWire) Close(code int, reason string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	deadline := time.Now().Add(w.options.WriteTimeout)
	if err := w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		w.logger.Debug("failed to write close frame", "error", err)
	}

	w.cancel()

	err := w.conn.Close()

	w.wg.Wait()

	return err
}

// writePump pumps queued envelopes to the websocket connection
func (w *wsWire) writePump() {
	defer w.wg.Done()
	defer func() {
		w.logger.Debug("write pump stopped")
	}()

	for {
		select {
		case <-w.ctx.Done():
			return

		case env := <-w.sendChan:
			w.conn.SetWriteDeadline(time.Now().Add(w.options.WriteTimeout))

			if err := w.conn.WriteJSON(env); err != nil {
				w.logger.Error("websocket write error", "error", err)
				w.cancel()
				return
			}

			// Drain any queued envelopes
			n := len(w.sendChan)
			for range n {
				select {
				case queued := <-w.sendChan:
					if err := w.conn.WriteJSON(queued); err != nil {
						w.logger.Error("websocket write error", "error", err)
						w.cancel()
						return
					}
				default:
				}
			}
		}
	}
}
