package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestObserveDecision(t *testing.T) {
	m := New()
	m.ObserveDecision(true, "ok")
	m.ObserveDecision(false, "replay")
	m.ObserveDecision(false, "replay")

	out := scrape(t, m)
	for _, want := range []string{
		`cmdgate_authz_decisions_total{outcome="deny",reason="replay"} 2`,
		`cmdgate_authz_decisions_total{outcome="allow",reason="ok"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in exposition", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDecision(true, "ok")
	m.ObserveRoute("ai", true)
	m.ObserveCall(OutcomeTimeout)
	m.SetPeers(3)
	m.SetPending(1)
	m.ObserveReload(true)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRoute("ai", true)
	m.ObserveCall(OutcomeTimeout)
	m.SetPeers(2)
	m.ObserveReload(false)

	out := scrape(t, m)
	for _, want := range []string{
		`cmdgate_router_requests_total{namespace="ai",outcome="success"} 1`,
		`cmdgate_transport_outbound_calls_total{outcome="timeout"} 1`,
		`cmdgate_transport_peers 2`,
		`cmdgate_rules_reloads_total{outcome="error"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in exposition", want)
		}
	}
}
