// Package wstransport carries adapter frames over WebSocket connections.
package wstransport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/cmdgate/internal/logging"
	"github.com/ppiankov/cmdgate/internal/transport"
)

// Defaults for connections.
const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultHelloTimeout = 10 * time.Second
	DefaultReadLimit    = 1 << 20
)

var errConnClosed = errors.New("connection closed")

// Conn is a transport.Conn over one WebSocket. Writes are serialized.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Conn = (*Conn)(nil)

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Conn{ws: ws, writeTimeout: writeTimeout, done: make(chan struct{})}
}

// Send writes one text message.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (c *Conn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Conn) closeWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		msg := websocket.FormatCloseMessage(code, reason)
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
		c.mu.Unlock()
		close(c.done)
	})
	return err
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// readLoop feeds inbound messages to the adapter until the socket fails,
// then removes the peer.
func readLoop(ctx context.Context, a *transport.Adapter, peerID string, c *Conn, log *slog.Logger) {
	defer func() {
		a.Disconnect(peerID, c)
		c.Close()
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("read failed", "peer", peerID, "err", err)
			}
			return
		}
		if err := a.HandleFrame(ctx, peerID, data); err != nil {
			log.Debug("frame rejected", "peer", peerID, "err", err)
		}
	}
}

func defaultLogger() *slog.Logger {
	return logging.Logger("ws")
}
