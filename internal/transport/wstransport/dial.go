package wstransport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/cmdgate/internal/transport"
)

// ErrRejected is returned by Dial when the remote side refuses the hello.
var ErrRejected = errors.New("connection rejected")

// Dial connects to a gateway at url, introduces itself as selfID with a
// hello signed by a's signer and registers the connection with a under
// remoteID. Frames are read on a background goroutine until the connection
// closes.
func Dial(ctx context.Context, url, selfID, remoteID string, a *transport.Adapter) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws.SetReadLimit(DefaultReadLimit)
	conn := newConn(ws, DefaultWriteTimeout)

	hello, err := a.Hello(selfID)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Send(ctx, hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	deadline := time.Now().Add(DefaultHelloTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	ws.SetReadDeadline(deadline)
	_, first, err := ws.ReadMessage()
	if err != nil {
		conn.Close()
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, fmt.Errorf("%w: %s", ErrRejected, closeErr.Text)
		}
		return nil, fmt.Errorf("await hello: %w", err)
	}
	ws.SetReadDeadline(time.Time{})

	if err := a.Connect(remoteID, conn); err != nil {
		conn.Close()
		return nil, err
	}
	// a command racing the acknowledgement is still delivered
	if f, err := transport.DecodeFrame(first); err != nil || f.Type != transport.FrameHello {
		a.HandleFrame(context.Background(), remoteID, first)
	}
	go readLoop(context.Background(), a, remoteID, conn, defaultLogger())
	return conn, nil
}
