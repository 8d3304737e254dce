package wstransport

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/cmdgate/internal/transport"
)

// Server upgrades HTTP requests to WebSocket peers of an adapter.
type Server struct {
	adapter      *transport.Adapter
	upgrader     websocket.Upgrader
	readLimit    int64
	writeTimeout time.Duration
	helloTimeout time.Duration
	log          *slog.Logger
}

// NewServer returns an http.Handler that attaches each upgraded connection
// to a. The first message must be a hello frame; the adapter decides the
// peer id from it, and sockets that fail the handshake are closed without
// ever joining the live set.
func NewServer(a *transport.Adapter) *Server {
	return &Server{
		adapter: a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// peers are devices, not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
		readLimit:    DefaultReadLimit,
		writeTimeout: DefaultWriteTimeout,
		helloTimeout: DefaultHelloTimeout,
		log:          defaultLogger(),
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(s.readLimit)
	conn := newConn(ws, s.writeTimeout)

	ws.SetReadDeadline(time.Now().Add(s.helloTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		s.log.Debug("no hello", "remote", r.RemoteAddr, "err", err)
		conn.closeWith(websocket.ClosePolicyViolation, "hello required")
		return
	}
	peerID, err := s.adapter.Accept(r.Context(), data)
	if err != nil {
		s.log.Warn("handshake rejected", "remote", r.RemoteAddr, "err", err)
		conn.closeWith(websocket.ClosePolicyViolation, err.Error())
		return
	}
	ws.SetReadDeadline(time.Time{})

	if err := s.adapter.Connect(peerID, conn); err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, transport.ErrTooManyPeers) {
			code = websocket.CloseTryAgainLater
		}
		s.log.Warn("peer rejected", "peer", peerID, "err", err)
		conn.closeWith(code, err.Error())
		return
	}
	ack, err := transport.EncodeFrame(transport.FrameHello, transport.Hello{Peer: peerID})
	if err == nil {
		err = conn.Send(r.Context(), ack)
	}
	if err != nil {
		s.log.Debug("hello ack failed", "peer", peerID, "err", err)
	}
	readLoop(r.Context(), s.adapter, peerID, conn, s.log)
}
