package gateway

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ppiankov/cmdgate/internal/approval"
	"github.com/ppiankov/cmdgate/internal/authz"
	"github.com/ppiankov/cmdgate/internal/identity"
	"github.com/ppiankov/cmdgate/internal/metrics"
	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/router"
	"github.com/ppiankov/cmdgate/internal/store"
	"github.com/ppiankov/cmdgate/internal/transport"
)

type chanConn struct {
	frames chan transport.Frame
}

func newChanConn() *chanConn {
	return &chanConn{frames: make(chan transport.Frame, 16)}
}

func (c *chanConn) Send(_ context.Context, data []byte) error {
	f, err := transport.DecodeFrame(data)
	if err != nil {
		return err
	}
	c.frames <- f
	return nil
}

func (c *chanConn) Close() error { return nil }

func (c *chanConn) response(t *testing.T) model.Response {
	t.Helper()
	for {
		select {
		case f := <-c.frames:
			if f.Type != transport.FrameResponse {
				continue
			}
			var resp model.Response
			if err := json.Unmarshal(f.Payload, &resp); err != nil {
				t.Fatal(err)
			}
			return resp
		case <-time.After(3 * time.Second):
			t.Fatal("no response frame")
		}
	}
}

type harness struct {
	gw        *Gateway
	engine    *authz.Engine
	approvals *approval.Store
	clock     *clock.Mock
	conn      *chanConn
	signers   map[string]*identity.Signer
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	keys := identity.NewKeyring()
	signers := map[string]*identity.Signer{}
	for i, id := range []string{"phone-1", "laptop-1"} {
		seed := make([]byte, ed25519.SeedSize)
		seed[0] = byte(i + 1)
		s := identity.NewSigner(id, ed25519.NewKeyFromSeed(seed)).WithClock(clk)
		if err := keys.Add(id, s.PublicKey(), ""); err != nil {
			t.Fatal(err)
		}
		signers[id] = s
	}

	approvals, err := approval.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	approvals.WithClock(clk)

	acfg := authz.DefaultConfig()
	acfg.RequireStepUp = false
	obs := DecisionObserver(ObserverDeps{Approvals: approvals, Metrics: metrics.New()})
	engine, err := authz.New(acfg, store.NewMemory(), keys, authz.WithClock(clk), authz.WithObserver(obs))
	if err != nil {
		t.Fatal(err)
	}

	gw, err := New(cfg, engine, WithClock(clk))
	if err != nil {
		t.Fatal(err)
	}
	conn := newChanConn()
	if err := gw.Adapter().Connect("peer-1", conn); err != nil {
		t.Fatal(err)
	}
	return &harness{gw: gw, engine: engine, approvals: approvals, clock: clk, conn: conn, signers: signers}
}

func (h *harness) call(t *testing.T, as, method string, params any) model.Response {
	t.Helper()
	auth, err := h.signers[as].Sign(method)
	if err != nil {
		t.Fatal(err)
	}
	req := model.Request{ID: "req-" + method, Method: method, Auth: auth}
	if params != nil {
		req.Params, _ = json.Marshal(params)
	}
	data, err := transport.EncodeFrame(transport.FrameRequest, req)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.gw.Adapter().HandleFrame(context.Background(), "peer-1", data); err != nil {
		t.Fatal(err)
	}
	resp := h.conn.response(t)
	if resp.ID != req.ID {
		t.Fatalf("response id %q does not match request %q", resp.ID, req.ID)
	}
	return resp
}

func (h *harness) grant(t *testing.T, id string, level model.Level) {
	t.Helper()
	if err := h.engine.SetPermission(context.Background(), id, level, model.PermissionMeta{GrantedBy: "operator"}); err != nil {
		t.Fatal(err)
	}
}

func TestChatRoundTrip(t *testing.T) {
	h := newHarness(t, Config{})
	h.gw.RegisterHandler("ai", router.HandlerFunc(func(_ context.Context, action string, params json.RawMessage, cctx model.CallContext) (any, error) {
		if cctx.Identity != "phone-1" || cctx.PeerID != "peer-1" || cctx.Channel != DefaultChannel {
			return nil, router.InvalidParams("bad context %+v", cctx)
		}
		return map[string]string{"reply": "hello"}, nil
	}))
	h.grant(t, "phone-1", model.LevelNormal)

	resp := h.call(t, "phone-1", "ai.chat", map[string]string{"msg": "hi"})
	if resp.Error != nil || string(resp.Result) != `{"reply":"hello"}` {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestDeniedRequestOpensElevation(t *testing.T) {
	h := newHarness(t, Config{})
	var called bool
	h.gw.RegisterHandler("file", router.HandlerFunc(func(context.Context, string, json.RawMessage, model.CallContext) (any, error) {
		called = true
		return nil, nil
	}))
	h.grant(t, "phone-1", model.LevelNormal)

	resp := h.call(t, "phone-1", "file.write", nil)
	if resp.Error == nil || resp.Error.Code != model.CodePermissionDenied || resp.Error.Message != "Permission denied (2 < 3)" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if called {
		t.Error("handler ran for denied request")
	}

	e, err := h.approvals.Get(approval.KeyFor("phone-1"))
	if err != nil {
		t.Fatalf("expected elevation request: %v", err)
	}
	if e.Status != approval.StatusPending || e.RequestedLevel != model.LevelAdmin || e.Method != "file.write" {
		t.Errorf("unexpected elevation %+v", e)
	}

	if _, err := approval.Grant(context.Background(), h.approvals, h.engine, e.Key, 0, "operator"); err != nil {
		t.Fatal(err)
	}
	if resp := h.call(t, "phone-1", "file.write", nil); resp.Error != nil {
		t.Errorf("expected allowed after approval, got %+v", resp.Error)
	}
}

func TestSystemHandlers(t *testing.T) {
	h := newHarness(t, Config{Version: "1.2.3"})
	h.grant(t, "phone-1", model.LevelNormal)

	resp := h.call(t, "phone-1", "system.ping", nil)
	if resp.Error != nil {
		t.Fatalf("ping failed: %+v", resp.Error)
	}

	resp = h.call(t, "phone-1", "system.status", nil)
	var st Status
	if err := json.Unmarshal(resp.Result, &st); err != nil {
		t.Fatal(err)
	}
	if st.Version != "1.2.3" || len(st.Peers) != 1 || st.Router.Total < 1 {
		t.Errorf("unexpected status %+v", st)
	}

	resp = h.call(t, "phone-1", "system.nothing", nil)
	if resp.Error == nil || resp.Error.Code != model.CodeMethodNotFound {
		t.Errorf("expected -32601, got %+v", resp)
	}
}

func TestSetPermission(t *testing.T) {
	h := newHarness(t, Config{})
	h.grant(t, "laptop-1", model.LevelRoot)

	resp := h.call(t, "laptop-1", "device.setPermission", map[string]any{"identity": "laptop-1", "level": 1})
	if resp.Error == nil || resp.Error.Code != model.CodePermissionDenied {
		t.Errorf("expected self-grant rejected, got %+v", resp)
	}

	resp = h.call(t, "laptop-1", "device.setPermission", map[string]any{"identity": "phone-1", "level": 9})
	if resp.Error == nil || resp.Error.Code != model.CodeInvalidParams {
		t.Errorf("expected invalid level rejected, got %+v", resp)
	}

	resp = h.call(t, "laptop-1", "device.setPermission", map[string]any{"identity": "phone-1", "level": 3, "duration": "1h"})
	if resp.Error != nil {
		t.Fatalf("grant failed: %+v", resp.Error)
	}
	var view PermissionView
	json.Unmarshal(resp.Result, &view)
	if view.Level != model.LevelAdmin || view.GrantedBy != "laptop-1" || view.ExpiresAt == nil {
		t.Errorf("unexpected view %+v", view)
	}

	// level 3 is allowed on level 2 and denied on level 4
	if resp := h.call(t, "phone-1", "file.read", nil); resp.Error == nil || resp.Error.Code != model.CodeMethodNotFound {
		t.Errorf("expected authorized request to reach routing, got %+v", resp)
	}
	if resp := h.call(t, "phone-1", "system.shutdown", nil); resp.Error == nil || resp.Error.Message != "Permission denied (3 < 4)" {
		t.Errorf("expected level 4 denial, got %+v", resp)
	}
}

func TestGetPermission(t *testing.T) {
	h := newHarness(t, Config{})
	h.grant(t, "phone-1", model.LevelNormal)

	resp := h.call(t, "phone-1", "device.getPermission", nil)
	var view PermissionView
	json.Unmarshal(resp.Result, &view)
	if resp.Error != nil || view.Identity != "phone-1" || view.EffectiveLevel != model.LevelNormal {
		t.Errorf("unexpected own permission %+v %+v", view, resp.Error)
	}

	resp = h.call(t, "phone-1", "device.getPermission", map[string]string{"identity": "laptop-1"})
	if resp.Error == nil || resp.Error.Code != model.CodePermissionDenied {
		t.Errorf("expected reading others denied below admin, got %+v", resp)
	}
}

func TestDeviceList(t *testing.T) {
	h := newHarness(t, Config{})
	h.grant(t, "laptop-1", model.LevelAdmin)
	h.grant(t, "phone-1", model.LevelNormal)

	resp := h.call(t, "laptop-1", "device.list", nil)
	var views []PermissionView
	if err := json.Unmarshal(resp.Result, &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Errorf("expected 2 grants, got %d", len(views))
	}
}

func TestHandlerTimeout(t *testing.T) {
	h := newHarness(t, Config{HandlerTimeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)
	h.gw.RegisterHandler("slow", router.HandlerFunc(func(context.Context, string, json.RawMessage, model.CallContext) (any, error) {
		<-release
		return nil, nil
	}))

	resp := h.gw.Execute(context.Background(), &model.Request{ID: "s1", Method: "slow.op"}, model.CallContext{})
	if resp.ID != "s1" || resp.Error == nil || resp.Error.Code != model.CodeRequestTimeout || resp.Error.Message != "Handler timed out" {
		t.Errorf("expected -32000, got %+v", resp)
	}
}

func TestNewRequiresEngine(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("expected error without engine")
	}
}
