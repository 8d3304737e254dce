package cmdgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/ppiankov/cmdgate/internal/logging"
	"github.com/ppiankov/cmdgate/internal/router"
	"github.com/ppiankov/cmdgate/internal/transport"
	"github.com/ppiankov/cmdgate/internal/transport/wstransport"
)

// Channel is reported in the call context of gateway-initiated commands.
const Channel = "websocket"

// ErrNotConnected is returned by Call before Dial succeeds.
var ErrNotConnected = errors.New("cmdgate: not connected")

// Client is one companion device connected to a gateway.
// Thread-safe for concurrent calls.
type Client struct {
	cfg     clientConfig
	signer  *Signer
	adapter *transport.Adapter
	router  *router.Router
	log     *slog.Logger

	mu     sync.Mutex
	conn   *wstransport.Conn
	cancel context.CancelFunc
	ctx    context.Context
}

// New creates a Client that signs calls with signer.
func New(signer *Signer, opts ...Option) (*Client, error) {
	if signer == nil {
		return nil, errors.New("cmdgate: signer is required")
	}
	cfg := clientConfig{
		gatewayID: DefaultGatewayID,
		window:    DefaultSignatureWindow,
		transport: transport.DefaultConfig(),
		clock:     clock.New(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	c := &Client{
		cfg:    cfg,
		signer: signer,
		router: router.New(router.WithClock(cfg.clock)),
		log:    logging.Logger("sdk"),
		ctx:    context.Background(),
	}

	var v transport.Verifier
	if len(cfg.gatewayKey) > 0 {
		v = newGatewayVerifier(cfg.gatewayKey, cfg.window, cfg.clock)
	}
	c.adapter = transport.New(cfg.transport, v,
		transport.WithClock(cfg.clock),
		transport.WithSigner(signer),
		transport.OnCommand(c.handleCommand),
	)
	return c, nil
}

// Identity returns the identity calls are signed as.
func (c *Client) Identity() string {
	return c.signer.Identity()
}

// Handle registers a handler for gateway-initiated commands in namespace.
func (c *Client) Handle(namespace string, h Handler) error {
	return c.router.RegisterHandler(namespace, h)
}

// HandleFunc registers fn for namespace.
func (c *Client) HandleFunc(namespace string, fn HandlerFunc) error {
	return c.router.RegisterHandler(namespace, fn)
}

// Dial connects to the gateway WebSocket endpoint and starts heartbeats.
func (c *Client) Dial(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return errors.New("cmdgate: already connected")
	}
	conn, err := wstransport.Dial(ctx, url, c.signer.Identity(), c.cfg.gatewayID, c.adapter)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.ctx = runCtx
	c.cancel = cancel
	go c.adapter.Run(runCtx)
	c.log.Info("connected", "url", url, "identity", c.signer.Identity())
	return nil
}

// Done is closed when the gateway connection drops.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.conn.Done()
}

// Call invokes method on the gateway and decodes the result into out.
// A gateway error response is returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	raw, err := c.CallRaw(ctx, method, params, CallOptions{})
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// CallRaw invokes method with explicit call options and returns the raw result.
func (c *Client) CallRaw(ctx context.Context, method string, params any, opts CallOptions) (json.RawMessage, error) {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}
	result, err := c.adapter.SendCommand(ctx, c.cfg.gatewayID, method, params, opts)
	if errors.Is(err, transport.ErrUnknownPeer) {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return result, err
}

// Close disconnects and waits for running handlers.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := c.adapter.Close()
	c.adapter.Wait()
	return err
}

func (c *Client) handleCommand(ev transport.CommandEvent) {
	c.mu.Lock()
	parent := c.ctx
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, c.adapter.Config().RequestTimeout)
	defer cancel()

	cctx := CallContext{
		PeerID:    ev.Peer,
		Identity:  ev.Identity,
		Channel:   Channel,
		Timestamp: ev.Received,
	}
	resp := c.router.Route(ctx, ev.Request, cctx)
	if err := ev.SendResponse(ctx, resp); err != nil {
		c.log.Warn("response not delivered", "method", ev.Request.Method, "err", err)
	}
}
