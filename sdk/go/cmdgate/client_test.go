package cmdgate

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/ppiankov/cmdgate/internal/authz"
	"github.com/ppiankov/cmdgate/internal/gateway"
	"github.com/ppiankov/cmdgate/internal/identity"
	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/store"
	"github.com/ppiankov/cmdgate/internal/transport"
	"github.com/ppiankov/cmdgate/internal/transport/wstransport"
)

func seededSigner(id string, seed byte) *identity.Signer {
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = seed
	}
	return identity.NewSigner(id, ed25519.NewKeyFromSeed(s))
}

type testGateway struct {
	gw     *gateway.Gateway
	signer *identity.Signer
	url    string
}

func newTestGateway(t *testing.T, devices ...*identity.Signer) *testGateway {
	t.Helper()
	keys := identity.NewKeyring()
	for _, d := range devices {
		if err := keys.Add(d.Identity(), d.PublicKey(), ""); err != nil {
			t.Fatal(err)
		}
	}
	engine, err := authz.New(authz.DefaultConfig(), store.NewMemory(), keys)
	if err != nil {
		t.Fatal(err)
	}
	gwSigner := seededSigner("gateway", 9)
	gw, err := gateway.New(gateway.Config{Version: "test"}, engine, gateway.WithSigner(gwSigner))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(wstransport.NewServer(gw.Adapter()))
	t.Cleanup(func() {
		gw.Close()
		srv.Close()
	})
	return &testGateway{
		gw:     gw,
		signer: gwSigner,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func newTestClient(t *testing.T, signer *identity.Signer, opts ...Option) *Client {
	t.Helper()
	c, err := New(signer, opts...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewRequiresSigner(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error without signer")
	}
}

func TestCallBeforeDial(t *testing.T) {
	c := newTestClient(t, seededSigner("phone-1", 1))
	err := c.Call(context.Background(), "system.ping", nil, nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestCallSignedPing(t *testing.T) {
	phone := seededSigner("phone-1", 1)
	tg := newTestGateway(t, phone)
	c := newTestClient(t, phone)
	ctx := testContext(t)

	if err := c.Dial(ctx, tg.url); err != nil {
		t.Fatal(err)
	}
	var pong struct {
		Pong bool `json:"pong"`
	}
	if err := c.Call(ctx, "system.ping", nil, &pong); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if !pong.Pong {
		t.Fatal("expected pong=true")
	}
}

func TestCallDeniedReturnsRPCError(t *testing.T) {
	phone := seededSigner("phone-1", 1)
	tg := newTestGateway(t, phone)
	c := newTestClient(t, phone)
	ctx := testContext(t)

	if err := c.Dial(ctx, tg.url); err != nil {
		t.Fatal(err)
	}
	err := c.Call(ctx, "system.shutdown", nil, nil)
	var rpcErr *model.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *model.RPCError, got %v", err)
	}
	if rpcErr.Code != model.CodePermissionDenied || rpcErr.Message != "Permission denied (1 < 4)" {
		t.Fatalf("unexpected error %+v", rpcErr)
	}
}

func TestUnknownDeviceRejected(t *testing.T) {
	tg := newTestGateway(t)
	c := newTestClient(t, seededSigner("stranger", 7))
	ctx := testContext(t)

	err := c.Dial(ctx, tg.url)
	if !errors.Is(err, ErrRejected) || !strings.Contains(err.Error(), authz.ReasonUnknownIdentity) {
		t.Fatalf("expected unknown identity rejection, got %v", err)
	}
	if err := c.Call(ctx, "system.ping", nil, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after rejection, got %v", err)
	}
}

func TestUnauthenticatedSocketCannotTakeOverPeer(t *testing.T) {
	phone := seededSigner("phone-1", 1)
	tg := newTestGateway(t, phone)
	c := newTestClient(t, phone, WithGatewayKey(tg.signer.PublicKey()))
	ctx := testContext(t)

	err := c.HandleFunc("mobile", func(context.Context, string, json.RawMessage, CallContext) (any, error) {
		return map[string]string{"from": "device"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Dial(ctx, tg.url); err != nil {
		t.Fatal(err)
	}
	if err := c.Call(ctx, "system.ping", nil, nil); err != nil {
		t.Fatal(err)
	}

	// an intruder claims the device's peer id without its key
	ws, _, err := websocket.DefaultDialer.Dial(tg.url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	hello, _ := transport.EncodeFrame(transport.FrameHello, transport.Hello{Peer: "phone-1"})
	if err := ws.WriteMessage(websocket.TextMessage, hello); err != nil {
		t.Fatal(err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected intruder closed, got %v", err)
	}

	raw, err := tg.gw.SendCommand(ctx, "phone-1", "mobile.vibrate", nil, transport.CallOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	json.Unmarshal(raw, &got)
	if got["from"] != "device" {
		t.Errorf("command answered by %v, want the real device", got)
	}
}

func TestGatewayCommandServedByHandler(t *testing.T) {
	phone := seededSigner("phone-1", 1)
	tg := newTestGateway(t, phone)
	c := newTestClient(t, phone, WithGatewayKey(tg.signer.PublicKey()))
	ctx := testContext(t)

	seen := make(chan model.CallContext, 1)
	err := c.HandleFunc("notify", func(_ context.Context, action string, params json.RawMessage, cctx model.CallContext) (any, error) {
		seen <- cctx
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return map[string]string{"action": action, "text": p.Text}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Dial(ctx, tg.url); err != nil {
		t.Fatal(err)
	}
	// a round trip guarantees the gateway has registered the peer
	if err := c.Call(ctx, "system.ping", nil, nil); err != nil {
		t.Fatal(err)
	}

	raw, err := tg.gw.SendCommand(ctx, "phone-1", "notify.show", map[string]string{"text": "hello"}, transport.CallOptions{})
	if err != nil {
		t.Fatalf("gateway command failed: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["action"] != "show" || got["text"] != "hello" {
		t.Fatalf("unexpected result %v", got)
	}
	cctx := <-seen
	if cctx.Identity != "gateway" || cctx.PeerID != DefaultGatewayID || cctx.Channel != Channel {
		t.Fatalf("unexpected call context %+v", cctx)
	}
}

func TestGatewayCommandWithWrongKeyRejected(t *testing.T) {
	phone := seededSigner("phone-1", 1)
	tg := newTestGateway(t, phone)
	other := seededSigner("other", 3)
	c := newTestClient(t, phone, WithGatewayKey(other.PublicKey()))
	ctx := testContext(t)

	if err := c.HandleFunc("notify", func(context.Context, string, json.RawMessage, model.CallContext) (any, error) {
		t.Error("handler must not run for a forged command")
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.Dial(ctx, tg.url); err != nil {
		t.Fatal(err)
	}
	if err := c.Call(ctx, "system.ping", nil, nil); err != nil {
		t.Fatal(err)
	}

	_, err := tg.gw.SendCommand(ctx, "phone-1", "notify.show", nil, transport.CallOptions{})
	var rpcErr *model.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Message != authz.ReasonInvalidSignature {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestUnknownNamespaceOnCompanion(t *testing.T) {
	phone := seededSigner("phone-1", 1)
	tg := newTestGateway(t, phone)
	c := newTestClient(t, phone)
	ctx := testContext(t)

	if err := c.Dial(ctx, tg.url); err != nil {
		t.Fatal(err)
	}
	if err := c.Call(ctx, "system.ping", nil, nil); err != nil {
		t.Fatal(err)
	}
	_, err := tg.gw.SendCommand(ctx, "phone-1", "camera.snap", nil, transport.CallOptions{})
	var rpcErr *model.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != model.CodeMethodNotFound {
		t.Fatalf("expected method not found, got %v", err)
	}
}

func TestGatewayVerifierReplay(t *testing.T) {
	gw := seededSigner("gateway", 9)
	v := newGatewayVerifier(gw.PublicKey(), time.Minute, clock.New())

	auth, err := gw.Sign("notify.show")
	if err != nil {
		t.Fatal(err)
	}
	req := &model.Request{ID: "1", Method: "notify.show", Auth: auth}
	if d := v.VerifyRequest(context.Background(), req); !d.Allowed {
		t.Fatalf("first delivery denied: %s", d.Reason)
	}
	if d := v.VerifyRequest(context.Background(), req); d.Allowed || d.Kind != authz.KindReplay {
		t.Fatalf("replay not detected: %+v", d)
	}

	req.Method = "notify.other"
	if d := v.VerifyRequest(context.Background(), req); d.Allowed || d.Kind != authz.KindSignature {
		t.Fatalf("method swap not detected: %+v", d)
	}
	if d := v.VerifyRequest(context.Background(), &model.Request{ID: "2", Method: "x.y"}); d.Kind != authz.KindMalformed {
		t.Fatalf("unsigned request not rejected: %+v", d)
	}
}
