// Package authz decides whether a signed command may execute. Every check
// writes exactly one audit entry.
package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ppiankov/cmdgate/internal/identity"
	"github.com/ppiankov/cmdgate/internal/logging"
	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/policy"
	"github.com/ppiankov/cmdgate/internal/ratelimit"
	"github.com/ppiankov/cmdgate/internal/replay"
	"github.com/ppiankov/cmdgate/internal/stepup"
	"github.com/ppiankov/cmdgate/internal/store"
)

// MethodSetPermission is the audit method recorded for grants.
const MethodSetPermission = "device.setPermission"

// Observer receives every decision after it is audited.
type Observer func(ctx context.Context, d Decision)

// AuditSink receives a copy of each audit entry.
type AuditSink interface {
	AppendAudit(ctx context.Context, e model.AuditEntry) error
}

// Engine is the authorization engine. Safe for concurrent use.
type Engine struct {
	cfg     Config
	store   store.Store
	keys    identity.KeyResolver
	stepUp  stepup.Verifier
	clock   clock.Clock
	log     *slog.Logger
	mirrors []AuditSink

	rules     atomic.Pointer[policy.Rules]
	nonces    *replay.Cache
	limiter   *ratelimit.Limiter
	cache     *expirable.LRU[string, model.Permission]
	observers []Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRules sets the initial command level rules.
func WithRules(r *policy.Rules) Option {
	return func(e *Engine) {
		if r != nil {
			e.rules.Store(r)
		}
	}
}

// WithStepUp sets the verifier consulted for root-level commands.
func WithStepUp(v stepup.Verifier) Option {
	return func(e *Engine) { e.stepUp = v }
}

// WithObserver adds a decision observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithAuditMirror adds a secondary audit sink. Mirror failures are logged.
func WithAuditMirror(s AuditSink) Option {
	return func(e *Engine) {
		if s != nil {
			e.mirrors = append(e.mirrors, s)
		}
	}
}

// New creates an Engine over a permission store and key resolver.
func New(cfg Config, st store.Store, keys identity.KeyResolver, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("authz: store is required")
	}
	if keys == nil {
		return nil, errors.New("authz: key resolver is required")
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:     cfg,
		store:   st,
		keys:    keys,
		clock:   clock.New(),
		log:     logging.Logger("authz"),
		nonces:  replay.New(cfg.NonceExpiry),
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
		cache:   expirable.NewLRU[string, model.Permission](cfg.PermissionCacheSize, nil, cfg.PermissionCacheTTL),
	}
	e.rules.Store(policy.DefaultRules())
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Rules returns the active command level rules.
func (e *Engine) Rules() *policy.Rules {
	return e.rules.Load()
}

// ReloadRules atomically swaps the command level rules.
func (e *Engine) ReloadRules(r *policy.Rules) {
	if r == nil {
		return
	}
	e.rules.Store(r)
	e.log.Info("level rules reloaded", "rules", r.Len())
}

// RequiredLevel resolves the level a method requires.
func (e *Engine) RequiredLevel(method string) model.Level {
	return e.rules.Load().Level(method)
}

// Verify authorizes method for the signed auth block.
func (e *Engine) Verify(ctx context.Context, auth *model.Auth, method string) Decision {
	return e.check(ctx, auth, method, nil)
}

// VerifyRequest authorizes a request. Params are passed to step-up verifiers.
func (e *Engine) VerifyRequest(ctx context.Context, req *model.Request) Decision {
	if req == nil {
		return e.check(ctx, nil, "", nil)
	}
	return e.check(ctx, req.Auth, req.Method, req.Params)
}

func (e *Engine) check(ctx context.Context, auth *model.Auth, method string, params json.RawMessage) Decision {
	now := e.clock.Now()
	d := Decision{Method: method}
	if auth != nil {
		d.Identity = auth.Identity
	}
	if method != "" {
		d.RequiredLevel = e.RequiredLevel(method)
	}

	d, ok := e.authenticate(ctx, now, d, auth, method)
	if !ok {
		return e.finish(ctx, now, d)
	}

	// 5-7. level
	d, ok = e.compare(ctx, now, d)
	if !ok {
		return e.finish(ctx, now, d)
	}

	// 8. rate limit
	if res := e.limiter.Allow(auth.Identity, policy.IsHighRisk(d.RequiredLevel), now); res.Exceeded {
		return e.finish(ctx, now, d.deny(KindRateLimit, ReasonRateLimited))
	}

	// 9. step-up
	if e.cfg.RequireStepUp && policy.RequiresStepUp(d.RequiredLevel) {
		if err := e.verifyStepUp(ctx, auth.Identity, method, params); err != nil {
			e.log.Info("step-up rejected", "identity", auth.Identity, "method", method, "err", err)
			return e.finish(ctx, now, d.deny(KindStepUp, ReasonStepUpFailed))
		}
	}

	// 10. success
	d.Allowed = true
	d.Kind = KindOK
	d.Reason = ReasonOK
	return e.finish(ctx, now, d)
}

// Authenticate runs the identity checks of Verify (completeness, freshness,
// replay and signature) over an auth block signed for method. Levels, rate
// limits and step-up are not applied. The check is audited.
func (e *Engine) Authenticate(ctx context.Context, auth *model.Auth, method string) Decision {
	now := e.clock.Now()
	d := Decision{Method: method, RequiredLevel: model.LevelPublic}
	if auth != nil {
		d.Identity = auth.Identity
	}
	d, ok := e.authenticate(ctx, now, d, auth, method)
	if ok {
		d.Allowed = true
		d.Kind = KindOK
		d.Reason = ReasonOK
	}
	return e.finish(ctx, now, d)
}

// authenticate runs steps 1-4. The nonce is consumed only when all of them
// pass, unless ConsumeNonceBeforeSignature is set.
func (e *Engine) authenticate(ctx context.Context, now time.Time, d Decision, auth *model.Auth, method string) (Decision, bool) {
	// 1. completeness
	if !auth.Complete() || method == "" {
		return d.deny(KindMalformed, ReasonMissingAuth), false
	}

	// 2. timestamp freshness
	skew := now.UnixMilli() - auth.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > e.cfg.SignatureWindow.Milliseconds() {
		return d.deny(KindExpired, ReasonTimestampExpired), false
	}

	// 3. nonce uniqueness
	if e.nonces.Seen(auth.Identity, auth.Nonce) {
		return d.deny(KindReplay, ReasonNonceUsed), false
	}
	if e.cfg.ConsumeNonceBeforeSignature && !e.nonces.Insert(auth.Identity, auth.Nonce, now) {
		return d.deny(KindReplay, ReasonNonceUsed), false
	}

	// 4. signature
	key, err := e.keys.ResolveKey(ctx, auth.Identity)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownIdentity) {
			return d.deny(KindUnknown, ReasonUnknownIdentity), false
		}
		e.log.Warn("key resolution failed", "identity", auth.Identity, "err", err)
		return d.deny(KindSignature, ReasonInvalidSignature), false
	}
	if err := identity.VerifySignature(key, method, auth.Timestamp, auth.Nonce, auth.Signature); err != nil {
		return d.deny(KindSignature, ReasonInvalidSignature), false
	}
	if !e.cfg.ConsumeNonceBeforeSignature && !e.nonces.Insert(auth.Identity, auth.Nonce, now) {
		return d.deny(KindReplay, ReasonNonceUsed), false
	}
	return d, true
}

func (e *Engine) verifyStepUp(ctx context.Context, identity, method string, params json.RawMessage) error {
	if e.stepUp == nil {
		return stepup.ErrNoVerifier
	}
	return e.stepUp.Verify(ctx, identity, method, params)
}

// compare resolves both levels and reports whether the identity suffices.
func (e *Engine) compare(ctx context.Context, now time.Time, d Decision) (Decision, bool) {
	d.RequiredLevel = e.RequiredLevel(d.Method)
	level, err := e.identityLevel(ctx, d.Identity, now)
	if err != nil {
		e.log.Error("permission lookup failed", "identity", d.Identity, "err", err)
		return d.deny(KindInternal, ReasonInternal), false
	}
	d.IdentityLevel = level
	if level < d.RequiredLevel {
		return d.deny(KindPermission, PermissionDenied(level, d.RequiredLevel)), false
	}
	return d, true
}

// Preflight runs the level checks only. No nonce, rate or step-up side
// effects. The check is audited.
func (e *Engine) Preflight(ctx context.Context, identity, method string) (bool, string) {
	now := e.clock.Now()
	d := Decision{Identity: identity, Method: method}
	if identity == "" || method == "" {
		d = e.finish(ctx, now, d.deny(KindMalformed, ReasonMissingAuth))
		return d.Allowed, d.Reason
	}
	d, ok := e.compare(ctx, now, d)
	if ok {
		d.Allowed = true
		d.Kind = KindOK
		d.Reason = ReasonOK
	}
	d = e.finish(ctx, now, d)
	return d.Allowed, d.Reason
}

// identityLevel returns the effective level: cache, then store, then the
// default for unseen identities.
func (e *Engine) identityLevel(ctx context.Context, identity string, now time.Time) (model.Level, error) {
	if p, ok := e.cache.Get(identity); ok {
		return p.EffectiveLevel(now), nil
	}
	// a cancelled caller must not turn an allowed request into a store error
	p, err := e.store.GetPermission(context.WithoutCancel(ctx), identity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// cached as an invalid level so EffectiveLevel yields the default
		e.cache.Add(identity, model.Permission{Identity: identity})
		return model.DefaultIdentityLevel, nil
	case err != nil:
		return 0, err
	}
	e.cache.Add(identity, *p)
	return p.EffectiveLevel(now), nil
}

// SetPermission upserts the grant for identity, refreshes the cache and
// audits the change.
func (e *Engine) SetPermission(ctx context.Context, identity string, level model.Level, meta model.PermissionMeta) error {
	if identity == "" {
		return errors.New("identity is required")
	}
	if !level.Valid() {
		return fmt.Errorf("invalid level %d", level)
	}
	now := e.clock.Now()
	p := model.Permission{
		Identity:   identity,
		Level:      level,
		DeviceName: meta.DeviceName,
		GrantedAt:  now.UTC(),
		GrantedBy:  meta.GrantedBy,
		ExpiresAt:  meta.ExpiresAt,
		Notes:      meta.Notes,
	}
	if err := e.store.UpsertPermission(ctx, p); err != nil {
		e.cache.Remove(identity)
		return fmt.Errorf("store permission: %w", err)
	}
	e.cache.Add(identity, p)

	reason := fmt.Sprintf("Level set to %d", level)
	if meta.GrantedBy != "" {
		reason += " by " + meta.GrantedBy
	}
	e.finish(ctx, now, Decision{
		Allowed:       true,
		Kind:          KindOK,
		Reason:        reason,
		Identity:      identity,
		Method:        MethodSetPermission,
		RequiredLevel: level,
		IdentityLevel: level,
	})
	return nil
}

// Permission returns the stored grant for identity. Unseen identities get
// a synthetic record at the default level.
func (e *Engine) Permission(ctx context.Context, identity string) (model.Permission, error) {
	p, err := e.store.GetPermission(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return model.Permission{Identity: identity, Level: model.DefaultIdentityLevel}, nil
	}
	if err != nil {
		return model.Permission{}, err
	}
	return *p, nil
}

// Permissions lists all stored grants.
func (e *Engine) Permissions(ctx context.Context) ([]model.Permission, error) {
	return e.store.ListPermissions(ctx)
}

// Audit lists recent audit entries from the store.
func (e *Engine) Audit(ctx context.Context, f store.AuditFilter) ([]model.AuditEntry, error) {
	return e.store.ListAudit(ctx, f)
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// finish writes the single audit entry for d and notifies observers.
// A grant that cannot be audited is turned into a denial. The write ignores
// caller cancellation: every decision is recorded.
func (e *Engine) finish(ctx context.Context, now time.Time, d Decision) Decision {
	ctx = context.WithoutCancel(ctx)
	entry := model.AuditEntry{
		Identity:      d.Identity,
		Method:        d.Method,
		RequiredLevel: d.RequiredLevel,
		Granted:       d.Allowed,
		Reason:        d.Reason,
		Timestamp:     now.UTC(),
	}
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		e.log.Error("audit write failed", "identity", d.Identity, "method", d.Method, "err", err)
		if d.Allowed {
			d = d.deny(KindInternal, ReasonInternal)
		}
	}
	for _, m := range e.mirrors {
		if err := m.AppendAudit(ctx, entry); err != nil {
			e.log.Warn("audit mirror write failed", "err", err)
		}
	}

	e.log.Debug("decision",
		"identity", d.Identity,
		"method", d.Method,
		"allowed", d.Allowed,
		"reason", d.Reason,
		"required", int(d.RequiredLevel))

	for _, o := range e.observers {
		o(ctx, d)
	}
	return d
}

func (d Decision) deny(kind Kind, reason string) Decision {
	d.Allowed = false
	d.Kind = kind
	d.Reason = reason
	return d
}
