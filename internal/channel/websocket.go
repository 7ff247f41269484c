// ABOUTME: WebSocket transport for tab channels built on gorilla/websocket.
// ABOUTME: Serializes writes, keeps the connection alive with pings, and skips malformed frames.

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/tabhub/internal/protocol"
)

const (
	// KeepAliveInterval matches the collector's own keep-alive period.
	KeepAliveInterval = 25 * time.Second

	pongWait     = 2 * KeepAliveInterval
	writeTimeout = 10 * time.Second

	// MaxMessageSize bounds a single inbound frame (tool lists can be large).
	MaxMessageSize = 4 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 << 10,
	WriteBufferSize: 16 << 10,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket is a Channel over a gorilla WebSocket connection.
type WebSocket struct {
	id     string
	name   string
	sender Sender
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Accept upgrades an HTTP request into a tab channel.
func Accept(w http.ResponseWriter, r *http.Request, name string, sender Sender, logger *slog.Logger) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrading websocket: %w", err)
	}
	return NewWebSocket(conn, name, sender, logger), nil
}

// NewWebSocket wraps an established connection and starts its keep-alive loop.
func NewWebSocket(conn *websocket.Conn, name string, sender Sender, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	ws := &WebSocket{
		id:     uuid.New().String(),
		name:   name,
		sender: sender,
		conn:   conn,
		done:   make(chan struct{}),
	}
	ws.logger = logger.With("channel_id", ws.id, "tab", string(sender.Tab))

	conn.SetReadLimit(MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go ws.keepAlive()
	return ws
}

func (w *WebSocket) ID() string     { return w.id }
func (w *WebSocket) Name() string   { return w.name }
func (w *WebSocket) Sender() Sender { return w.sender }

// Done is closed once the connection is closed.
func (w *WebSocket) Done() <-chan struct{} { return w.done }

// Send writes msg as a JSON text frame. Writes are serialized because
// gorilla connections allow only one concurrent writer.
func (w *WebSocket) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	_ = w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteJSON(msg); err != nil {
		w.shutdown()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Receive returns the next well-formed message. Frames that are not valid
// JSON messages are logged and skipped.
func (w *WebSocket) Receive(ctx context.Context) (protocol.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Message{}, err
		}

		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.shutdown()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return protocol.Message{}, ErrClosed
			}
			return protocol.Message{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logger.Warn("dropping malformed frame", "error", err, "bytes", len(data))
			continue
		}
		return msg, nil
	}
}

// Close sends a close frame and tears down the connection. Safe to call
// multiple times.
func (w *WebSocket) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	w.shutdown()
	return nil
}

func (w *WebSocket) shutdown() {
	w.closeOnce.Do(func() {
		close(w.done)
		if err := w.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			w.logger.Debug("closing websocket", "error", err)
		}
	})
}

func (w *WebSocket) keepAlive() {
	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			w.writeMu.Unlock()
			if err != nil {
				w.logger.Debug("keep-alive ping failed", "error", err)
				w.shutdown()
				return
			}
		}
	}
}
