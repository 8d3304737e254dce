// Package transport adapts an untrusted peer-to-peer connection to the
// gateway: it decodes frames, authorizes inbound requests, correlates
// outbound calls with their responses and tracks peer liveness.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ppiankov/cmdgate/internal/authz"
	"github.com/ppiankov/cmdgate/internal/logging"
	"github.com/ppiankov/cmdgate/internal/metrics"
	"github.com/ppiankov/cmdgate/internal/model"
)

var (
	ErrTimeout      = errors.New("request timed out")
	ErrClosed       = errors.New("adapter closed")
	ErrTooManyPeers = errors.New("too many peers")
	ErrUnknownPeer  = errors.New("unknown peer")
	ErrHandshake    = errors.New("handshake rejected")
)

// HelloMethod is the method name hello auth blocks are signed for.
const HelloMethod = "transport.hello"

// Conn is one peer connection. Send must be safe for concurrent use.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Verifier authorizes inbound requests.
type Verifier interface {
	VerifyRequest(ctx context.Context, req *model.Request) authz.Decision
}

// Authenticator checks the signed hello of a connecting peer.
type Authenticator interface {
	Authenticate(ctx context.Context, auth *model.Auth, method string) authz.Decision
}

// Signer attaches an auth block to outbound requests.
type Signer interface {
	Sign(method string) (*model.Auth, error)
}

// CommandEvent is emitted for every authorized inbound request.
type CommandEvent struct {
	Peer     string
	Request  *model.Request
	Identity string
	Received time.Time

	// SendResponse replies to the originating peer.
	SendResponse func(ctx context.Context, resp model.Response) error
}

// DisconnectReason says why a peer left the live set.
type DisconnectReason string

const (
	ReasonClosed   DisconnectReason = "closed"
	ReasonTimedOut DisconnectReason = "timed-out"
	ReasonReplaced DisconnectReason = "replaced"
	ReasonShutdown DisconnectReason = "shutdown"
)

// PeerInfo describes a connected peer.
type PeerInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// CallOptions tunes one SendCommand call. Zero values use the adapter
// config; NoRetry sends exactly one attempt whatever the config says.
type CallOptions struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	NoRetry    bool
}

type peer struct {
	id          string
	conn        Conn
	connectedAt time.Time
	lastSeen    time.Time
}

type callResult struct {
	resp model.Response
	err  error
}

type pendingCall struct {
	peer  string
	timer *clock.Timer
	done  chan callResult
}

// Adapter is the transport adapter. Safe for concurrent use.
type Adapter struct {
	cfg      Config
	verifier Verifier
	authn    Authenticator
	signer   Signer
	clock    clock.Clock
	metrics  *metrics.Metrics
	log      *slog.Logger
	history  *history

	mu      sync.Mutex
	peers   map[string]*peer
	pending map[string]*pendingCall
	closed  bool

	onCommand    func(CommandEvent)
	onEvent      func(peer string, ev Event)
	onDisconnect func(peer string, reason DisconnectReason)

	commands sync.WaitGroup
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock replaces the time source.
func WithClock(c clock.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithSigner signs outbound requests.
func WithSigner(s Signer) Option {
	return func(a *Adapter) { a.signer = s }
}

// WithAuthenticator requires connecting peers to prove their identity in
// the hello frame. The peer id becomes the authenticated identity.
func WithAuthenticator(au Authenticator) Option {
	return func(a *Adapter) { a.authn = au }
}

// WithMetrics reports peers, pending calls and call outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// OnCommand sets the handler for authorized inbound requests. It runs on
// its own goroutine per request.
func OnCommand(fn func(CommandEvent)) Option {
	return func(a *Adapter) { a.onCommand = fn }
}

// OnEvent sets the handler for inbound one-way events.
func OnEvent(fn func(peer string, ev Event)) Option {
	return func(a *Adapter) { a.onEvent = fn }
}

// OnDisconnect sets the handler called when a peer leaves the live set.
func OnDisconnect(fn func(peer string, reason DisconnectReason)) Option {
	return func(a *Adapter) { a.onDisconnect = fn }
}

// New creates an Adapter. With a nil verifier inbound requests are accepted
// unauthenticated, which is only appropriate on the companion side of a
// trusted gateway connection.
func New(cfg Config, v Verifier, opts ...Option) *Adapter {
	cfg = cfg.withDefaults()
	a := &Adapter{
		cfg:      cfg,
		verifier: v,
		clock:    clock.New(),
		log:      logging.Logger("transport"),
		history:  newHistory(cfg.HistorySize),
		peers:    make(map[string]*peer),
		pending:  make(map[string]*pendingCall),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the effective configuration.
func (a *Adapter) Config() Config {
	return a.cfg
}

// Hello encodes the opening frame for a connection dialed as selfID,
// signed when the adapter has a signer.
func (a *Adapter) Hello(selfID string) ([]byte, error) {
	h := Hello{Peer: selfID}
	if a.signer != nil {
		auth, err := a.signer.Sign(HelloMethod)
		if err != nil {
			return nil, fmt.Errorf("sign hello: %w", err)
		}
		h.Auth = auth
	}
	return EncodeFrame(FrameHello, h)
}

// Accept checks the first frame of an inbound connection and returns the
// peer id to register it under. With an authenticator the id is the
// identity proven by the hello signature; otherwise the claimed peer id is
// trusted.
func (a *Adapter) Accept(ctx context.Context, data []byte) (string, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if f.Type != FrameHello {
		return "", fmt.Errorf("%w: expected hello, got %s", ErrHandshake, f.Type)
	}
	var h Hello
	if err := json.Unmarshal(f.Payload, &h); err != nil {
		return "", fmt.Errorf("%w: bad hello payload", ErrHandshake)
	}
	if a.authn == nil {
		if h.Peer == "" {
			return "", fmt.Errorf("%w: missing peer id", ErrHandshake)
		}
		return h.Peer, nil
	}
	d := a.authn.Authenticate(ctx, h.Auth, HelloMethod)
	if !d.Allowed {
		return "", fmt.Errorf("%w: %s", ErrHandshake, d.Reason)
	}
	return d.Identity, nil
}

// Connect adds a peer to the live set. A peer reconnecting under the same
// id replaces its previous connection; with an authenticator only a
// connection that proved that identity gets this far.
func (a *Adapter) Connect(id string, conn Conn) error {
	if id == "" {
		return errors.New("peer id is required")
	}
	now := a.clock.Now()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	old := a.peers[id]
	if old == nil && len(a.peers) >= a.cfg.MaxPeers {
		a.mu.Unlock()
		return fmt.Errorf("%w: limit %d", ErrTooManyPeers, a.cfg.MaxPeers)
	}
	a.peers[id] = &peer{id: id, conn: conn, connectedAt: now, lastSeen: now}
	n := len(a.peers)
	a.mu.Unlock()

	a.metrics.SetPeers(n)
	if old != nil {
		old.conn.Close()
		a.emitDisconnect(id, ReasonReplaced)
	}
	a.log.Info("peer connected", "peer", id)
	return nil
}

// Disconnect removes a peer after its connection closed. Only the
// connection currently registered for id is removed.
func (a *Adapter) Disconnect(id string, conn Conn) {
	a.mu.Lock()
	p := a.peers[id]
	if p == nil || (conn != nil && p.conn != conn) {
		a.mu.Unlock()
		return
	}
	delete(a.peers, id)
	n := len(a.peers)
	a.mu.Unlock()

	a.metrics.SetPeers(n)
	p.conn.Close()
	a.emitDisconnect(id, ReasonClosed)
}

// Peers returns the live peers sorted by id.
func (a *Adapter) Peers() []PeerInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PeerInfo, 0, len(a.peers))
	for _, p := range a.peers {
		out = append(out, PeerInfo{ID: p.id, ConnectedAt: p.connectedAt, LastSeen: p.lastSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingCount returns the number of outbound calls awaiting a response.
func (a *Adapter) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// History returns the recorded traffic, oldest first.
func (a *Adapter) History() []HistoryEntry {
	return a.history.snapshot()
}

// HandleFrame decodes and dispatches one frame received from peer.
func (a *Adapter) HandleFrame(ctx context.Context, peerID string, data []byte) error {
	if !a.touch(peerID) {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	f, err := DecodeFrame(data)
	if err != nil {
		a.log.Debug("dropping frame", "peer", peerID, "err", err)
		return err
	}
	switch f.Type {
	case FrameRequest:
		return a.handleRequest(ctx, peerID, f.Payload)
	case FrameResponse:
		return a.handleResponse(peerID, f.Payload)
	case FrameEvent:
		var ev Event
		if err := json.Unmarshal(f.Payload, &ev); err != nil || ev.Name == "" {
			return fmt.Errorf("%w: bad event payload", ErrMalformedFrame)
		}
		if a.onEvent != nil {
			a.onEvent(peerID, ev)
		}
	case FrameHeartbeat, FrameHello:
		// liveness already recorded by touch
	}
	return nil
}

func (a *Adapter) touch(id string) bool {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.peers[id]
	if p == nil {
		return false
	}
	p.lastSeen = now
	return true
}

func (a *Adapter) handleRequest(ctx context.Context, peerID string, payload json.RawMessage) error {
	var req model.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return a.sendResponse(ctx, peerID, model.NewError("", model.CodeInvalidRequest, "Invalid request", nil))
	}
	a.record(peerID, Inbound, FrameRequest, req.ID, req.Method)

	identity := req.Identity()
	if a.verifier != nil {
		d := a.verifier.VerifyRequest(ctx, &req)
		if !d.Allowed {
			return a.sendResponse(ctx, peerID, d.Response(req.ID))
		}
		identity = d.Identity
	}

	if a.onCommand == nil {
		return a.sendResponse(ctx, peerID, model.NewError(req.ID, model.CodeMethodNotFound, "No command handler", nil))
	}
	ev := CommandEvent{
		Peer:     peerID,
		Request:  &req,
		Identity: identity,
		Received: a.clock.Now(),
		SendResponse: func(ctx context.Context, resp model.Response) error {
			return a.sendResponse(ctx, peerID, resp)
		},
	}
	a.commands.Add(1)
	go func() {
		defer a.commands.Done()
		a.onCommand(ev)
	}()
	return nil
}

func (a *Adapter) handleResponse(peerID string, payload json.RawMessage) error {
	var resp model.Response
	if err := json.Unmarshal(payload, &resp); err != nil || resp.ID == "" {
		return fmt.Errorf("%w: bad response payload", ErrMalformedFrame)
	}
	a.record(peerID, Inbound, FrameResponse, resp.ID, "")
	if !a.resolve(resp.ID, peerID, callResult{resp: resp}) {
		a.log.Debug("response for unknown call", "peer", peerID, "id", resp.ID)
	}
	return nil
}

func (a *Adapter) sendResponse(ctx context.Context, peerID string, resp model.Response) error {
	data, err := EncodeFrame(FrameResponse, resp)
	if err != nil {
		return err
	}
	a.record(peerID, Outbound, FrameResponse, resp.ID, "")
	return a.send(ctx, peerID, data)
}

func (a *Adapter) send(ctx context.Context, peerID string, data []byte) error {
	a.mu.Lock()
	p := a.peers[peerID]
	a.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	if err := p.conn.Send(ctx, data); err != nil {
		return fmt.Errorf("send to %s: %w", peerID, err)
	}
	return nil
}

func (a *Adapter) record(peerID string, dir Direction, t FrameType, id, method string) {
	a.history.add(HistoryEntry{
		Time:      a.clock.Now(),
		Peer:      peerID,
		Direction: dir,
		Type:      t,
		ID:        id,
		Method:    method,
	})
}

func (a *Adapter) emitDisconnect(id string, reason DisconnectReason) {
	a.log.Info("peer disconnected", "peer", id, "reason", string(reason))
	if a.onDisconnect != nil {
		a.onDisconnect(id, reason)
	}
}

// Close rejects every pending call, stops their timers and drops all peers.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	pending := a.pending
	a.pending = make(map[string]*pendingCall)
	peers := a.peers
	a.peers = make(map[string]*peer)
	a.mu.Unlock()

	for _, pc := range pending {
		pc.timer.Stop()
		pc.done <- callResult{err: ErrClosed}
	}
	for id, p := range peers {
		p.conn.Close()
		a.emitDisconnect(id, ReasonShutdown)
	}
	a.metrics.SetPending(0)
	a.metrics.SetPeers(0)
	return nil
}

// Wait blocks until running command handlers return.
func (a *Adapter) Wait() {
	a.commands.Wait()
}
