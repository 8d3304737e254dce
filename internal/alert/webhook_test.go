package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func init() {
	retryBackoff = 10 * time.Millisecond
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &called
}

func TestDispatchMatchesEvents(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]AlertConfig{
		{URL: srv.URL, Format: "generic", Events: []string{"deny"}},
	})
	d.Dispatch(context.Background(), AlertEvent{Decision: "deny", Identity: "phone-1", Method: "file.write"})
	d.Wait()

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]AlertConfig{
		{URL: srv.URL, Format: "generic", Events: []string{"deny"}},
	})
	d.Dispatch(context.Background(), AlertEvent{Decision: "allow", Method: "system.ping"})
	d.Wait()

	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching event, got %d", called.Load())
	}
}

func TestDispatchMatchesType(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcher([]AlertConfig{
		{URL: srv.URL, Events: []string{TypeReplay}},
	})
	d.Dispatch(context.Background(), AlertEvent{Decision: "deny", Type: TypeReplay})
	d.Dispatch(context.Background(), AlertEvent{Decision: "deny", Type: TypeStepUpFailed})
	d.Wait()

	if called.Load() != 1 {
		t.Errorf("expected 1 call for replay type, got %d", called.Load())
	}
}

func TestDispatchMultipleWebhooks(t *testing.T) {
	srv1, c1 := countingServer(t, http.StatusOK)
	srv2, c2 := countingServer(t, http.StatusOK)

	d := NewDispatcher([]AlertConfig{
		{URL: srv1.URL, Events: []string{"deny"}},
		{URL: srv2.URL, Events: []string{"deny"}},
	})
	d.Dispatch(context.Background(), AlertEvent{Decision: "deny"})
	d.Wait()

	if c1.Load()+c2.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", c1.Load()+c2.Load())
	}
}

func TestRetryOnServerError(t *testing.T) {
	srv, called := countingServer(t, http.StatusBadGateway)

	err := Send(context.Background(), AlertConfig{URL: srv.URL}, AlertEvent{Decision: "deny"})
	if err == nil {
		t.Fatal("expected error after retries")
	}
	if called.Load() != maxRetries {
		t.Errorf("expected %d attempts, got %d", maxRetries, called.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	srv, called := countingServer(t, http.StatusForbidden)

	if err := Send(context.Background(), AlertConfig{URL: srv.URL}, AlertEvent{Decision: "deny"}); err == nil {
		t.Fatal("expected error")
	}
	if called.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", called.Load())
	}
}

func TestSendHeaders(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := AlertConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer x"}}
	if err := Send(context.Background(), cfg, AlertEvent{Decision: "deny"}); err != nil {
		t.Fatal(err)
	}
	if got.Load() != "Bearer x" {
		t.Errorf("expected header forwarded, got %v", got.Load())
	}
}

func TestFormatGenericJSON(t *testing.T) {
	event := AlertEvent{Identity: "phone-1", Method: "file.write", Decision: "deny", Reason: "Permission denied (2 < 3)", RequiredLevel: 3}
	data, err := FormatPayload("generic", event)
	if err != nil {
		t.Fatal(err)
	}
	var back AlertEvent
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != event {
		t.Errorf("expected %+v, got %+v", event, back)
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	data, err := FormatPayload("slack", AlertEvent{Decision: "deny", Type: TypeReplay, RequiredLevel: 2})
	if err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	blocks, ok := payload["blocks"].([]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %v", payload["blocks"])
	}
	header := blocks[0].(map[string]any)["text"].(map[string]any)["text"]
	if header != "cmdgate: deny (replay)" {
		t.Errorf("unexpected header %v", header)
	}
}

func TestFormatPagerDutySeverity(t *testing.T) {
	tests := []struct {
		event AlertEvent
		want  string
	}{
		{AlertEvent{Decision: "deny", RequiredLevel: 4}, "critical"},
		{AlertEvent{Decision: "deny", RequiredLevel: 3}, "error"},
		{AlertEvent{Decision: "deny", RequiredLevel: 2}, "warning"},
		{AlertEvent{Decision: "allow", RequiredLevel: 1}, "info"},
	}
	for _, tt := range tests {
		data, err := FormatPayload("pagerduty", tt.event)
		if err != nil {
			t.Fatal(err)
		}
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			t.Fatal(err)
		}
		sev := payload["payload"].(map[string]any)["severity"]
		if sev != tt.want {
			t.Errorf("level %d: expected %s, got %v", tt.event.RequiredLevel, tt.want, sev)
		}
	}
}

func TestNewDispatcherNilOnEmpty(t *testing.T) {
	d := NewDispatcher(nil)
	if d != nil {
		t.Error("expected nil dispatcher for empty configs")
	}
	// nil dispatcher is safe to use
	d.Dispatch(context.Background(), AlertEvent{Decision: "deny"})
	d.Wait()
}
