package cmdgate

import (
	"crypto/ed25519"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultGatewayID is the peer id the gateway connection is registered under.
const DefaultGatewayID = "gateway"

// DefaultSignatureWindow bounds the clock skew accepted on gateway commands.
const DefaultSignatureWindow = 30 * time.Second

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	gatewayID  string
	gatewayKey ed25519.PublicKey
	window     time.Duration
	transport  TransportConfig
	clock      clock.Clock
}

// WithGatewayID sets the peer id used for the gateway connection.
func WithGatewayID(id string) Option {
	return func(c *clientConfig) { c.gatewayID = id }
}

// WithGatewayKey requires gateway-initiated commands to be signed by pub.
// Without it inbound commands are accepted unauthenticated.
func WithGatewayKey(pub ed25519.PublicKey) Option {
	return func(c *clientConfig) { c.gatewayKey = pub }
}

// WithSignatureWindow sets the accepted timestamp skew on gateway commands.
func WithSignatureWindow(d time.Duration) Option {
	return func(c *clientConfig) { c.window = d }
}

// WithTransport overrides timeouts, retries and heartbeat settings.
func WithTransport(cfg TransportConfig) Option {
	return func(c *clientConfig) { c.transport = cfg }
}

// WithClock replaces the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *clientConfig) { c.clock = clk }
}
