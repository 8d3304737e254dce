package ratelimit

import "time"

// Defaults for the per-identity limiter.
const (
	DefaultLimit    = 100
	DefaultHighRisk = 10
	DefaultWindow   = time.Minute
	DefaultIdleTTL  = 5 * time.Minute
)

// Config holds per-identity rate limits.
// Zero limits mean no limit for that tier.
type Config struct {
	Default  int           `yaml:"rate_limit_default" env:"RATE_LIMIT_DEFAULT"`
	HighRisk int           `yaml:"rate_limit_high_risk" env:"RATE_LIMIT_HIGH_RISK"`
	Window   time.Duration `yaml:"rate_window" env:"RATE_WINDOW"`
	IdleTTL  time.Duration `yaml:"rate_idle_ttl" env:"RATE_IDLE_TTL"`
}

// DefaultConfig returns the built-in limits.
func DefaultConfig() Config {
	return Config{
		Default:  DefaultLimit,
		HighRisk: DefaultHighRisk,
		Window:   DefaultWindow,
		IdleTTL:  DefaultIdleTTL,
	}
}

// LimitFor returns the request budget for a tier.
func (c Config) LimitFor(highRisk bool) int {
	if highRisk {
		return c.HighRisk
	}
	return c.Default
}
