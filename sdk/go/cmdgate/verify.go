package cmdgate

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ppiankov/cmdgate/internal/authz"
	"github.com/ppiankov/cmdgate/internal/identity"
	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/replay"
)

// gatewayVerifier checks that inbound commands carry a fresh, unreplayed
// signature from the gateway key. Levels do not apply on this side.
type gatewayVerifier struct {
	pub    ed25519.PublicKey
	window time.Duration
	clock  clock.Clock
	nonces *replay.Cache

	mu        sync.Mutex
	lastSweep time.Time
}

func newGatewayVerifier(pub ed25519.PublicKey, window time.Duration, clk clock.Clock) *gatewayVerifier {
	if window <= 0 {
		window = DefaultSignatureWindow
	}
	// nonces outlive the window on both sides of the skew
	return &gatewayVerifier{pub: pub, window: window, clock: clk, nonces: replay.New(2 * window)}
}

func (v *gatewayVerifier) VerifyRequest(_ context.Context, req *model.Request) authz.Decision {
	d := authz.Decision{Identity: req.Identity(), Method: req.Method}
	auth := req.Auth
	if !auth.Complete() || req.Method == "" {
		return deny(d, authz.KindMalformed, authz.ReasonMissingAuth)
	}

	now := v.clock.Now()
	v.sweep(now)
	skew := now.UnixMilli() - auth.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > v.window.Milliseconds() {
		return deny(d, authz.KindExpired, authz.ReasonTimestampExpired)
	}
	if err := identity.VerifySignature(v.pub, req.Method, auth.Timestamp, auth.Nonce, auth.Signature); err != nil {
		return deny(d, authz.KindSignature, authz.ReasonInvalidSignature)
	}
	if !v.nonces.Insert(auth.Identity, auth.Nonce, now) {
		return deny(d, authz.KindReplay, authz.ReasonNonceUsed)
	}

	d.Allowed = true
	d.Kind = authz.KindOK
	d.Reason = authz.ReasonOK
	return d
}

func (v *gatewayVerifier) sweep(now time.Time) {
	v.mu.Lock()
	due := now.Sub(v.lastSweep) > v.window
	if due {
		v.lastSweep = now
	}
	v.mu.Unlock()
	if due {
		v.nonces.Sweep(now)
	}
}

func deny(d authz.Decision, kind authz.Kind, reason string) authz.Decision {
	d.Kind = kind
	d.Reason = reason
	return d
}
