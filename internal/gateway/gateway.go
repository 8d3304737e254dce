// Package gateway composes the authorization engine, the command router and
// the transport adapter: authorized command events are routed to handlers
// and the normalized response is sent back to the originating peer.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ppiankov/cmdgate/internal/authz"
	"github.com/ppiankov/cmdgate/internal/logging"
	"github.com/ppiankov/cmdgate/internal/metrics"
	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/router"
	"github.com/ppiankov/cmdgate/internal/transport"
)

// DefaultHandlerTimeout bounds one handler invocation.
const DefaultHandlerTimeout = 30 * time.Second

// DefaultChannel is reported to handlers as the call channel.
const DefaultChannel = "websocket"

// Config holds the gateway settings.
type Config struct {
	HandlerTimeout time.Duration
	Channel        string
	Version        string
	Transport      transport.Config
}

// Gateway routes authorized commands. Safe for concurrent use.
type Gateway struct {
	cfg     Config
	engine  *authz.Engine
	router  *router.Router
	adapter *transport.Adapter
	clock   clock.Clock
	metrics *metrics.Metrics
	signer  transport.Signer
	log     *slog.Logger
	started time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock replaces the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// WithMetrics reports router and transport metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithSigner signs gateway-initiated commands.
func WithSigner(s transport.Signer) Option {
	return func(g *Gateway) { g.signer = s }
}

// New builds a gateway over engine and registers the built-in system and
// device handlers.
func New(cfg Config, engine *authz.Engine, opts ...Option) (*Gateway, error) {
	if engine == nil {
		return nil, fmt.Errorf("gateway: engine is required")
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	g := &Gateway{
		cfg:    cfg,
		engine: engine,
		clock:  clock.New(),
		log:    logging.Logger("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.started = g.clock.Now()

	g.router = router.New(router.WithClock(g.clock), router.WithMetrics(g.metrics))
	topts := []transport.Option{
		transport.WithClock(g.clock),
		transport.WithMetrics(g.metrics),
		transport.WithAuthenticator(engine),
		transport.OnCommand(g.handleCommand),
	}
	if g.signer != nil {
		topts = append(topts, transport.WithSigner(g.signer))
	}
	g.adapter = transport.New(cfg.Transport, engine, topts...)

	if err := g.router.RegisterHandler("system", systemHandler{g}); err != nil {
		return nil, err
	}
	if err := g.router.RegisterHandler("device", deviceHandler{g}); err != nil {
		return nil, err
	}
	return g, nil
}

// RegisterHandler adds a namespace handler. Call before serving.
func (g *Gateway) RegisterHandler(namespace string, h router.Handler) error {
	return g.router.RegisterHandler(namespace, h)
}

// Engine returns the authorization engine.
func (g *Gateway) Engine() *authz.Engine {
	return g.engine
}

// Router returns the command router.
func (g *Gateway) Router() *router.Router {
	return g.router
}

// Adapter returns the transport adapter.
func (g *Gateway) Adapter() *transport.Adapter {
	return g.adapter
}

// SendCommand sends a gateway-initiated command to a peer.
func (g *Gateway) SendCommand(ctx context.Context, peer, method string, params any, opts transport.CallOptions) (json.RawMessage, error) {
	return g.adapter.SendCommand(ctx, peer, method, params, opts)
}

// Run drives the heartbeat loop until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	g.adapter.Run(ctx)
}

// Close stops the adapter and rejects pending calls.
func (g *Gateway) Close() error {
	return g.adapter.Close()
}

func (g *Gateway) handleCommand(ev transport.CommandEvent) {
	cctx := model.CallContext{
		PeerID:    ev.Peer,
		Identity:  ev.Identity,
		Channel:   g.cfg.Channel,
		Timestamp: ev.Received,
	}
	resp := g.Execute(context.Background(), ev.Request, cctx)

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.HandlerTimeout)
	defer cancel()
	if err := ev.SendResponse(ctx, resp); err != nil {
		g.log.Warn("response not delivered", "peer", ev.Peer, "id", resp.ID, "err", err)
	}
}

// Execute routes an already-authorized request with the handler timeout
// applied. A handler that outlives the timeout yields -32000.
func (g *Gateway) Execute(ctx context.Context, req *model.Request, cctx model.CallContext) model.Response {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.HandlerTimeout)
	defer cancel()

	done := make(chan model.Response, 1)
	go func() {
		done <- g.router.Route(ctx, req, cctx)
	}()
	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
		var id, method string
		if req != nil {
			id, method = req.ID, req.Method
		}
		g.log.Warn("handler timed out", "method", method, "timeout", g.cfg.HandlerTimeout)
		return model.NewError(id, model.CodeRequestTimeout, "Handler timed out", nil)
	}
}
