package wstransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/transport"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echoAdapter(cfg transport.Config) *transport.Adapter {
	return transport.New(cfg, nil, transport.OnCommand(func(ev transport.CommandEvent) {
		resp, _ := model.NewResult(ev.Request.ID, map[string]string{"method": ev.Request.Method, "peer": ev.Peer})
		ev.SendResponse(context.Background(), resp)
	}))
}

func TestRoundTripOverWebSocket(t *testing.T) {
	gw := echoAdapter(transport.DefaultConfig())
	defer gw.Close()
	srv := httptest.NewServer(NewServer(gw))
	defer srv.Close()

	client := echoAdapter(transport.DefaultConfig())
	defer client.Close()
	if _, err := Dial(context.Background(), wsURL(srv), "phone-1", "gateway", client); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// companion -> gateway
	result, err := client.SendCommand(ctx, "gateway", "ai.chat", map[string]string{"msg": "hi"}, transport.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	json.Unmarshal(result, &got)
	if got["method"] != "ai.chat" || got["peer"] != "phone-1" {
		t.Errorf("unexpected result %v", got)
	}

	// gateway -> companion
	result, err = gw.SendCommand(ctx, "phone-1", "mobile.vibrate", map[string]int{"duration": 500}, transport.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	json.Unmarshal(result, &got)
	if got["method"] != "mobile.vibrate" || got["peer"] != "gateway" {
		t.Errorf("unexpected result %v", got)
	}
}

// rawHello dials srv with a bare WebSocket client and sends a hello for peer.
func rawHello(t *testing.T, srv *httptest.Server, peer string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	hello, err := transport.EncodeFrame(transport.FrameHello, transport.Hello{Peer: peer})
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatal(err)
	}
	return ws
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) || closeErr.Code != code {
			t.Errorf("expected close code %d, got %v", code, err)
		}
		return
	}
}

func TestHelloRegistersPeer(t *testing.T) {
	gw := echoAdapter(transport.DefaultConfig())
	defer gw.Close()
	srv := httptest.NewServer(NewServer(gw))
	defer srv.Close()

	ws := rawHello(t, srv, "tablet")
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	f, err := transport.DecodeFrame(data)
	if err != nil || f.Type != transport.FrameHello {
		t.Fatalf("expected hello ack, got %s (%v)", data, err)
	}
	var ack transport.Hello
	json.Unmarshal(f.Payload, &ack)
	if ack.Peer != "tablet" {
		t.Errorf("ack bound %q, want tablet", ack.Peer)
	}
	if peers := gw.Peers(); len(peers) != 1 || peers[0].ID != "tablet" {
		t.Errorf("unexpected peers %+v", peers)
	}
}

func TestFirstFrameMustBeHello(t *testing.T) {
	gw := echoAdapter(transport.DefaultConfig())
	defer gw.Close()
	srv := httptest.NewServer(NewServer(gw))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	req, _ := transport.EncodeFrame(transport.FrameRequest, model.Request{ID: "1", Method: "system.ping"})
	if err := ws.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatal(err)
	}
	expectClose(t, ws, websocket.ClosePolicyViolation)
	if len(gw.Peers()) != 0 {
		t.Errorf("socket without hello joined the live set: %+v", gw.Peers())
	}
}

func TestDialReportsRejection(t *testing.T) {
	gw := echoAdapter(transport.DefaultConfig())
	defer gw.Close()
	srv := httptest.NewServer(NewServer(gw))
	defer srv.Close()

	client := echoAdapter(transport.DefaultConfig())
	defer client.Close()
	_, err := Dial(context.Background(), wsURL(srv), "", "gateway", client)
	if !errors.Is(err, ErrRejected) || !strings.Contains(err.Error(), "missing peer id") {
		t.Errorf("expected rejection, got %v", err)
	}
}

func TestTooManyPeersClosed(t *testing.T) {
	cfg := transport.DefaultConfig()
	cfg.MaxPeers = 1
	gw := echoAdapter(cfg)
	defer gw.Close()
	srv := httptest.NewServer(NewServer(gw))
	defer srv.Close()

	first := rawHello(t, srv, "a")
	defer first.Close()
	deadline := time.Now().Add(2 * time.Second)
	for len(gw.Peers()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	second := rawHello(t, srv, "b")
	defer second.Close()
	expectClose(t, second, websocket.CloseTryAgainLater)
}

func TestDisconnectRemovesPeer(t *testing.T) {
	gone := make(chan transport.DisconnectReason, 1)
	gw := transport.New(transport.DefaultConfig(), nil, transport.OnDisconnect(func(_ string, r transport.DisconnectReason) {
		gone <- r
	}))
	defer gw.Close()
	srv := httptest.NewServer(NewServer(gw))
	defer srv.Close()

	client := transport.New(transport.DefaultConfig(), nil)
	conn, err := Dial(context.Background(), wsURL(srv), "phone-1", "gateway", client)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	select {
	case r := <-gone:
		if r != transport.ReasonClosed {
			t.Errorf("expected closed, got %s", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not notice disconnect")
	}
	<-conn.Done()
}
