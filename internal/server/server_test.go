package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ppiankov/cmdgate/internal/audit"
	"github.com/ppiankov/cmdgate/internal/config"
	"github.com/ppiankov/cmdgate/internal/identity"
	"github.com/ppiankov/cmdgate/internal/logging"
	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/store"
	"github.com/ppiankov/cmdgate/internal/transport"
	"github.com/ppiankov/cmdgate/internal/transport/wstransport"
)

func testSigner(id string) *identity.Signer {
	seed := make([]byte, ed25519.SeedSize)
	copy(seed, id)
	return identity.NewSigner(id, ed25519.NewKeyFromSeed(seed))
}

func testConfig(t *testing.T, signers ...*identity.Signer) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.AdminListen = "127.0.0.1:0"
	cfg.MetricsListen = "127.0.0.1:0"
	cfg.Database = filepath.Join(dir, "cmdgate.db")
	cfg.AuditLog = filepath.Join(dir, "audit.jsonl")
	cfg.Keyring = filepath.Join(dir, "keyring.yaml")
	cfg.Levels = filepath.Join(dir, "levels.yaml")
	cfg.ApprovalsDir = filepath.Join(dir, "pending")
	cfg.BreakglassDir = filepath.Join(dir, "breakglass")

	kr := identity.NewKeyring()
	for _, s := range signers {
		if err := kr.Add(s.Identity(), s.PublicKey(), ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := kr.Save(cfg.Keyring); err != nil {
		t.Fatal(err)
	}
	return cfg
}

type running struct {
	srv    *Server
	ls     Listeners
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, cfg config.Config) *running {
	t.Helper()
	srv, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ls, err := srv.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{srv: srv, ls: ls, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- srv.ServeOn(ctx, ls) }()
	t.Cleanup(func() {
		r.stop(t)
		srv.Close()
	})
	return r
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		if err != nil {
			t.Errorf("ServeOn: %v", err)
		}
		r.done <- nil
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServeRoutesSignedCommands(t *testing.T) {
	phone := testSigner("phone-1")
	r := start(t, testConfig(t, phone))

	client := transport.New(transport.DefaultConfig(), nil, transport.WithSigner(phone))
	defer client.Close()
	url := "ws://" + r.ls.Gateway.Addr().String() + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := wstransport.Dial(ctx, url, "phone-1", "gateway", client); err != nil {
		t.Fatal(err)
	}

	result, err := client.SendCommand(ctx, "gateway", "system.ping", nil, transport.CallOptions{})
	if err != nil {
		t.Fatalf("system.ping: %v", err)
	}
	var pong map[string]any
	json.Unmarshal(result, &pong)
	if pong["pong"] != true {
		t.Errorf("unexpected ping result %s", result)
	}

	_, err = client.SendCommand(ctx, "gateway", "system.shutdown", nil, transport.CallOptions{})
	rpcErr, ok := err.(*model.RPCError)
	if !ok || rpcErr.Code != model.CodePermissionDenied || rpcErr.Message != "Permission denied (1 < 4)" {
		t.Errorf("expected permission denial, got %v", err)
	}

	entries, err := r.srv.Engine().Audit(ctx, store.AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	// hello, ping, shutdown
	if len(entries) != 3 {
		t.Errorf("expected 3 audit rows, got %d", len(entries))
	}

	res := audit.Verify(r.srv.cfg.AuditLog)
	if !res.Valid || res.Lines != 3 {
		t.Errorf("expected valid 3-line audit mirror, got %+v", res)
	}
}

func TestUnknownIdentityRejected(t *testing.T) {
	r := start(t, testConfig(t))
	stranger := testSigner("stranger")

	client := transport.New(transport.DefaultConfig(), nil, transport.WithSigner(stranger))
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := wstransport.Dial(ctx, "ws://"+r.ls.Gateway.Addr().String()+"/ws", "stranger", "gateway", client)
	if !errors.Is(err, wstransport.ErrRejected) || !strings.Contains(err.Error(), "Unknown identity") {
		t.Errorf("expected unknown identity rejection, got %v", err)
	}
	if peers := r.srv.Gateway().Adapter().Peers(); len(peers) != 0 {
		t.Errorf("rejected peer joined: %+v", peers)
	}
}

func TestDIDKeyIdentityAccepted(t *testing.T) {
	r := start(t, testConfig(t))
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 42
	did := identity.NewSigner("", ed25519.NewKeyFromSeed(seed))

	client := transport.New(transport.DefaultConfig(), nil, transport.WithSigner(did))
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := wstransport.Dial(ctx, "ws://"+r.ls.Gateway.Addr().String()+"/ws", "did-peer", "gateway", client); err != nil {
		t.Fatal(err)
	}
	if _, err := client.SendCommand(ctx, "gateway", "system.ping", nil, transport.CallOptions{}); err != nil {
		t.Errorf("expected did:key identity accepted, got %v", err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	r := start(t, testConfig(t))

	conn, err := grpc.NewClient(r.ls.Admin.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("expected SERVING, got %v", resp.GetStatus())
	}

	r.srv.Engine().Preflight(ctx, "phone-1", "system.ping")
	body := get(t, "http://"+r.ls.Metrics.Addr().String()+"/metrics")
	if !strings.Contains(body, "cmdgate_authz_decisions_total") {
		t.Error("expected decision counter in metrics output")
	}
	if body := get(t, "http://"+r.ls.Gateway.Addr().String()+"/healthz"); body != "ok\n" {
		t.Errorf("unexpected healthz %q", body)
	}
}

func TestReloadLevels(t *testing.T) {
	cfg := testConfig(t)
	r := start(t, cfg)
	before := r.srv.RulesHash()

	if got := r.srv.Engine().RequiredLevel("system.ping"); got != model.LevelPublic {
		t.Fatalf("expected default level 1, got %d", got)
	}
	if err := os.WriteFile(cfg.Levels, []byte("levels:\n  system.ping: 3\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := r.srv.ReloadLevels(); err != nil {
		t.Fatalf("ReloadLevels: %v", err)
	}
	if got := r.srv.Engine().RequiredLevel("system.ping"); got != model.LevelAdmin {
		t.Errorf("expected reloaded level 3, got %d", got)
	}
	if r.srv.RulesHash() == before {
		t.Error("expected rules hash to change")
	}

	os.WriteFile(cfg.Levels, []byte("levels: [broken"), 0600)
	if err := r.srv.ReloadLevels(); err == nil {
		t.Error("expected invalid levels file rejected")
	}
	if got := r.srv.Engine().RequiredLevel("system.ping"); got != model.LevelAdmin {
		t.Errorf("failed reload must keep previous rules, got %d", got)
	}
}

func TestReloaderDebouncesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levels.yaml")
	os.WriteFile(path, []byte("levels: {}\n"), 0600)

	calls := make(chan struct{}, 8)
	r, err := NewReloader(map[string]func() error{
		path:                  func() error { calls <- struct{}{}; return nil },
		"/does/not/exist.yml": func() error { return nil },
	}, logging.Discard())
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	if r.Watched() != 1 {
		t.Errorf("expected missing file skipped, watching %d", r.Watched())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for i := 0; i < 3; i++ {
		os.WriteFile(path, []byte("levels:\n  ai.chat: 3\n"), 0600)
	}
	select {
	case <-calls:
	case <-time.After(3 * time.Second):
		t.Fatal("reload not triggered")
	}
	select {
	case <-calls:
		t.Error("expected rapid writes coalesced into one reload")
	case <-time.After(800 * time.Millisecond):
	}
}

func TestNewFailsOnBadLevels(t *testing.T) {
	cfg := testConfig(t)
	os.WriteFile(cfg.Levels, []byte("levels:\n  \"bad..pattern\": 2\n"), 0600)
	if _, err := New(cfg, "test"); err == nil {
		t.Error("expected invalid levels file to fail startup")
	}
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}
