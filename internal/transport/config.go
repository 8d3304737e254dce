package transport

import "time"

// Defaults for the adapter.
const (
	DefaultRequestTimeout    = 30 * time.Second
	DefaultRetryDelay        = time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultMissedHeartbeats  = 3
	DefaultMaxPeers          = 64
	DefaultHistorySize       = 256
)

// Config holds the adapter settings.
type Config struct {
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	Retries           int           `yaml:"retries" env:"RETRIES"`
	RetryDelay        time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	MissedHeartbeats  int           `yaml:"missed_heartbeats" env:"MISSED_HEARTBEATS"`
	MaxPeers          int           `yaml:"max_peers" env:"MAX_PEERS"`
	HistorySize       int           `yaml:"history_size" env:"HISTORY_SIZE"`
}

// DefaultConfig returns the built-in adapter settings.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    DefaultRequestTimeout,
		RetryDelay:        DefaultRetryDelay,
		HeartbeatInterval: DefaultHeartbeatInterval,
		MissedHeartbeats:  DefaultMissedHeartbeats,
		MaxPeers:          DefaultMaxPeers,
		HistorySize:       DefaultHistorySize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.MissedHeartbeats <= 0 {
		c.MissedHeartbeats = d.MissedHeartbeats
	}
	if c.MaxPeers <= 0 {
		c.MaxPeers = d.MaxPeers
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	return c
}

// LivenessTimeout is the silence after which a peer is evicted.
func (c Config) LivenessTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.MissedHeartbeats)
}
