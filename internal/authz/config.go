package authz

import (
	"time"

	"github.com/ppiankov/cmdgate/internal/ratelimit"
)

// Defaults for the engine.
const (
	DefaultSignatureWindow     = 5 * time.Minute
	DefaultNonceExpiry         = 5 * time.Minute
	DefaultPermissionCacheSize = 1024
	DefaultPermissionCacheTTL  = time.Minute
	DefaultSweepInterval       = time.Minute
)

// Config holds the engine settings.
type Config struct {
	SignatureWindow time.Duration `yaml:"signature_window" env:"SIGNATURE_WINDOW"`
	NonceExpiry     time.Duration `yaml:"nonce_expiry" env:"NONCE_EXPIRY"`

	RateLimit ratelimit.Config `yaml:",inline"`

	RequireStepUp bool `yaml:"require_step_up" env:"REQUIRE_STEP_UP"`

	// ConsumeNonceBeforeSignature burns the nonce before the signature is
	// checked, so a forged request also spends it.
	ConsumeNonceBeforeSignature bool `yaml:"consume_nonce_before_signature" env:"CONSUME_NONCE_BEFORE_SIGNATURE"`

	PermissionCacheSize int           `yaml:"permission_cache_size" env:"PERMISSION_CACHE_SIZE"`
	PermissionCacheTTL  time.Duration `yaml:"permission_cache_ttl" env:"PERMISSION_CACHE_TTL"`
	SweepInterval       time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// DefaultConfig returns the built-in engine settings.
func DefaultConfig() Config {
	return Config{
		SignatureWindow:     DefaultSignatureWindow,
		NonceExpiry:         DefaultNonceExpiry,
		RateLimit:           ratelimit.DefaultConfig(),
		RequireStepUp:       true,
		PermissionCacheSize: DefaultPermissionCacheSize,
		PermissionCacheTTL:  DefaultPermissionCacheTTL,
		SweepInterval:       DefaultSweepInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SignatureWindow <= 0 {
		c.SignatureWindow = d.SignatureWindow
	}
	if c.NonceExpiry <= 0 {
		c.NonceExpiry = d.NonceExpiry
	}
	// a nonce must outlive the window in which its timestamp is accepted
	if c.NonceExpiry < c.SignatureWindow {
		c.NonceExpiry = c.SignatureWindow
	}
	if c.PermissionCacheSize <= 0 {
		c.PermissionCacheSize = d.PermissionCacheSize
	}
	if c.PermissionCacheTTL <= 0 {
		c.PermissionCacheTTL = d.PermissionCacheTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}
