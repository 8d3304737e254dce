package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	if cfg.Listen != want.Listen || cfg.Auth.SignatureWindow != 5*time.Minute || cfg.Transport.RequestTimeout != 30*time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !cfg.Auth.RequireStepUp {
		t.Error("expected step-up required by default")
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
database: /var/lib/cmdgate/db.sqlite
auth:
  signature_window: 2m
  rate_limit_default: 50
  require_step_up: false
step_up:
  totp_secrets:
    phone-1: JBSWY3DPEHPK3PXP
transport:
  retries: 2
  retry_delay: 250ms
router:
  handler_timeout: 5s
alerts:
  - url: https://example.invalid/hook
    format: slack
    events: [deny]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9000" || cfg.Database != "/var/lib/cmdgate/db.sqlite" {
		t.Errorf("unexpected paths %+v", cfg)
	}
	if cfg.Auth.SignatureWindow != 2*time.Minute || cfg.Auth.RateLimit.Default != 50 || cfg.Auth.RequireStepUp {
		t.Errorf("unexpected auth %+v", cfg.Auth)
	}
	// untouched keys keep their defaults
	if cfg.Auth.RateLimit.HighRisk != 10 || cfg.Auth.NonceExpiry != 5*time.Minute {
		t.Errorf("expected defaults preserved, got %+v", cfg.Auth)
	}
	if cfg.StepUp.TOTPSecrets["phone-1"] != "JBSWY3DPEHPK3PXP" {
		t.Errorf("unexpected step-up %+v", cfg.StepUp)
	}
	if cfg.Transport.Retries != 2 || cfg.Transport.RetryDelay != 250*time.Millisecond {
		t.Errorf("unexpected transport %+v", cfg.Transport)
	}
	if cfg.Router.HandlerTimeout != 5*time.Second {
		t.Errorf("unexpected router %+v", cfg.Router)
	}
	if len(cfg.Alerts) != 1 || cfg.Alerts[0].Format != "slack" {
		t.Errorf("unexpected alerts %+v", cfg.Alerts)
	}
	if gw := cfg.Gateway("v1"); gw.HandlerTimeout != 5*time.Second || gw.Transport.Retries != 2 || gw.Version != "v1" {
		t.Errorf("unexpected gateway config %+v", gw)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\n")
	t.Setenv("CMDGATE_LISTEN", ":7000")
	t.Setenv("CMDGATE_AUTH_SIGNATURE_WINDOW", "90s")
	t.Setenv("CMDGATE_AUTH_RATE_LIMIT_HIGH_RISK", "3")
	t.Setenv("CMDGATE_TRANSPORT_MAX_PEERS", "8")
	t.Setenv("CMDGATE_ROUTER_HANDLER_TIMEOUT", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("expected env to win over file, got %q", cfg.Listen)
	}
	if cfg.Auth.SignatureWindow != 90*time.Second || cfg.Auth.RateLimit.HighRisk != 3 {
		t.Errorf("unexpected auth %+v", cfg.Auth)
	}
	if cfg.Transport.MaxPeers != 8 || cfg.Router.HandlerTimeout != 2*time.Second {
		t.Errorf("unexpected overrides %+v %+v", cfg.Transport, cfg.Router)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid yaml", "listen: [unclosed", "parse config"},
		{"bad duration", "auth:\n  signature_window: soon\n", "parse config"},
		{"negative retries", "transport:\n  retries: -1\n", "retries"},
		{"alert without url", "alerts:\n  - format: slack\n", "url is required"},
		{"unknown alert format", "alerts:\n  - url: http://x\n    format: teams\n", "unknown format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestTemplateParses(t *testing.T) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(Template), &cfg); err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	if cfg.Auth.SignatureWindow != 5*time.Minute || cfg.Transport.HistorySize != 256 {
		t.Errorf("template disagrees with defaults: %+v", cfg)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Errorf("unexpected expansion %q", got)
	}
	if got := ExpandHome("/abs"); got != "/abs" {
		t.Errorf("absolute path changed: %q", got)
	}
}
