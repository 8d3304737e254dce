// Package config loads the gateway configuration: built-in defaults, then
// the YAML file, then CMDGATE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/cmdgate/internal/alert"
	"github.com/ppiankov/cmdgate/internal/authz"
	"github.com/ppiankov/cmdgate/internal/gateway"
	"github.com/ppiankov/cmdgate/internal/transport"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CMDGATE_"

// Config is the full gateway configuration.
type Config struct {
	Listen        string `yaml:"listen" env:"LISTEN"`
	AdminListen   string `yaml:"admin_listen" env:"ADMIN_LISTEN"`
	MetricsListen string `yaml:"metrics_listen" env:"METRICS_LISTEN"`

	Database      string `yaml:"database" env:"DATABASE"`
	AuditLog      string `yaml:"audit_log" env:"AUDIT_LOG"`
	Keyring       string `yaml:"keyring" env:"KEYRING"`
	Levels        string `yaml:"levels" env:"LEVELS"`
	Identity      string `yaml:"identity" env:"IDENTITY"`
	ApprovalsDir  string `yaml:"approvals_dir" env:"APPROVALS_DIR"`
	BreakglassDir string `yaml:"breakglass_dir" env:"BREAKGLASS_DIR"`

	Auth      authz.Config        `yaml:"auth" envPrefix:"AUTH_"`
	StepUp    StepUpConfig        `yaml:"step_up" envPrefix:"STEP_UP_"`
	Transport transport.Config    `yaml:"transport" envPrefix:"TRANSPORT_"`
	Router    RouterConfig        `yaml:"router" envPrefix:"ROUTER_"`
	Alerts    []alert.AlertConfig `yaml:"alerts"`
}

// StepUpConfig configures root-level step-up verification.
type StepUpConfig struct {
	TOTPSecrets map[string]string `yaml:"totp_secrets" env:"TOTP_SECRETS"`
}

// RouterConfig configures handler execution.
type RouterConfig struct {
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`
}

// Dir returns ~/.cmdgate.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cmdgate"
	}
	return filepath.Join(home, ".cmdgate")
}

// DefaultPath returns ~/.cmdgate/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	dir := Dir()
	return Config{
		Listen:        ":8440",
		AdminListen:   "127.0.0.1:8441",
		MetricsListen: "127.0.0.1:9440",
		Database:      filepath.Join(dir, "cmdgate.db"),
		AuditLog:      filepath.Join(dir, "audit.jsonl"),
		Keyring:       filepath.Join(dir, "keyring.yaml"),
		Levels:        filepath.Join(dir, "levels.yaml"),
		ApprovalsDir:  filepath.Join(dir, "pending"),
		BreakglassDir: filepath.Join(dir, "breakglass"),
		Auth:          authz.DefaultConfig(),
		Transport:     transport.DefaultConfig(),
		Router:        RouterConfig{HandlerTimeout: gateway.DefaultHandlerTimeout},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file yields the defaults; an empty path uses DefaultPath.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// alert destinations are file-only
	alerts := cfg.Alerts
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Alerts = alerts
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the gateway cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if c.Auth.SignatureWindow < 0 || c.Auth.NonceExpiry < 0 {
		errs = append(errs, errors.New("auth windows must not be negative"))
	}
	if c.Auth.RateLimit.Default < 0 || c.Auth.RateLimit.HighRisk < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.Transport.Retries < 0 {
		errs = append(errs, errors.New("transport.retries must not be negative"))
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			errs = append(errs, fmt.Errorf("alerts[%d]: url is required", i))
		}
		switch a.Format {
		case "", "generic", "slack", "pagerduty":
		default:
			errs = append(errs, fmt.Errorf("alerts[%d]: unknown format %q", i, a.Format))
		}
	}
	return errors.Join(errs...)
}

// Gateway returns the gateway settings.
func (c Config) Gateway(version string) gateway.Config {
	return gateway.Config{
		HandlerTimeout: c.Router.HandlerTimeout,
		Version:        version,
		Transport:      c.Transport,
	}
}

func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.Database, &c.AuditLog, &c.Keyring, &c.Levels,
		&c.Identity, &c.ApprovalsDir, &c.BreakglassDir,
	} {
		*p = ExpandHome(*p)
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
