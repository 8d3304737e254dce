package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/router"
	"github.com/ppiankov/cmdgate/internal/transport"
)

// Status is the result of system.status.
type Status struct {
	Version      string               `json:"version"`
	StartedAt    time.Time            `json:"started_at"`
	Uptime       string               `json:"uptime"`
	Namespaces   []string             `json:"namespaces"`
	Rules        int                  `json:"rules"`
	Router       router.Stats         `json:"router"`
	Peers        []transport.PeerInfo `json:"peers"`
	PendingCalls int                  `json:"pending_calls"`
}

// Status reports gateway health.
func (g *Gateway) Status() Status {
	now := g.clock.Now()
	return Status{
		Version:      g.cfg.Version,
		StartedAt:    g.started,
		Uptime:       now.Sub(g.started).Truncate(time.Second).String(),
		Namespaces:   g.router.Namespaces(),
		Rules:        g.engine.Rules().Len(),
		Router:       g.router.Stats(),
		Peers:        g.adapter.Peers(),
		PendingCalls: g.adapter.PendingCount(),
	}
}

type systemHandler struct{ g *Gateway }

func (h systemHandler) Handle(_ context.Context, action string, _ json.RawMessage, _ model.CallContext) (any, error) {
	switch action {
	case "ping":
		return map[string]any{"pong": true, "timestamp": h.g.clock.Now().UnixMilli()}, nil
	case "status":
		return h.g.Status(), nil
	}
	return nil, router.Errorf(model.CodeMethodNotFound, "Unknown action system.%s", action)
}

type deviceHandler struct{ g *Gateway }

type setPermissionParams struct {
	Identity   string      `json:"identity"`
	Level      model.Level `json:"level"`
	DeviceName string      `json:"device_name"`
	ExpiresAt  *time.Time  `json:"expires_at"`
	Duration   string      `json:"duration"`
	Notes      string      `json:"notes"`
}

type identityParams struct {
	Identity string `json:"identity"`
}

// PermissionView is a stored grant with its level in force.
type PermissionView struct {
	model.Permission
	EffectiveLevel model.Level `json:"effective_level"`
	Expired        bool        `json:"expired"`
}

func (h deviceHandler) Handle(ctx context.Context, action string, params json.RawMessage, cctx model.CallContext) (any, error) {
	switch action {
	case "setPermission":
		return h.setPermission(ctx, params, cctx)
	case "getPermission":
		return h.getPermission(ctx, params, cctx)
	case "list":
		return h.list(ctx)
	}
	return nil, router.Errorf(model.CodeMethodNotFound, "Unknown action device.%s", action)
}

func (h deviceHandler) setPermission(ctx context.Context, params json.RawMessage, cctx model.CallContext) (any, error) {
	var p setPermissionParams
	if err := router.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Identity == "" {
		return nil, router.InvalidParams("identity is required")
	}
	if !p.Level.Valid() {
		return nil, router.InvalidParams("level must be 1-4, got %d", p.Level)
	}
	if model.IsSelfGrant(cctx.Identity, p.Identity) {
		return nil, router.Errorf(model.CodePermissionDenied, "Cannot change own permission level")
	}

	meta := model.PermissionMeta{
		DeviceName: p.DeviceName,
		GrantedBy:  cctx.Identity,
		ExpiresAt:  p.ExpiresAt,
		Notes:      p.Notes,
	}
	if p.Duration != "" {
		d, err := time.ParseDuration(p.Duration)
		if err != nil || d <= 0 {
			return nil, router.InvalidParams("invalid duration %q", p.Duration)
		}
		exp := h.g.engine.Now().Add(d).UTC()
		meta.ExpiresAt = &exp
	}
	if err := h.g.engine.SetPermission(ctx, p.Identity, p.Level, meta); err != nil {
		return nil, err
	}
	return h.view(ctx, p.Identity)
}

// getPermission returns the caller's own grant. Reading another identity
// requires admin level.
func (h deviceHandler) getPermission(ctx context.Context, params json.RawMessage, cctx model.CallContext) (any, error) {
	var p identityParams
	if err := router.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	target := p.Identity
	if target == "" {
		target = cctx.Identity
	}
	if target == "" {
		return nil, router.InvalidParams("identity is required")
	}
	if target != cctx.Identity {
		caller, err := h.g.engine.Permission(ctx, cctx.Identity)
		if err != nil {
			return nil, err
		}
		if level := caller.EffectiveLevel(h.g.engine.Now()); level < model.LevelAdmin {
			return nil, router.Errorf(model.CodePermissionDenied, "Permission denied (%d < %d)", level, model.LevelAdmin)
		}
	}
	return h.view(ctx, target)
}

func (h deviceHandler) list(ctx context.Context) (any, error) {
	perms, err := h.g.engine.Permissions(ctx)
	if err != nil {
		return nil, err
	}
	now := h.g.engine.Now()
	out := make([]PermissionView, 0, len(perms))
	for _, p := range perms {
		out = append(out, PermissionView{Permission: p, EffectiveLevel: p.EffectiveLevel(now), Expired: p.Expired(now)})
	}
	return out, nil
}

func (h deviceHandler) view(ctx context.Context, identity string) (PermissionView, error) {
	p, err := h.g.engine.Permission(ctx, identity)
	if err != nil {
		return PermissionView{}, err
	}
	now := h.g.engine.Now()
	return PermissionView{Permission: p, EffectiveLevel: p.EffectiveLevel(now), Expired: p.Expired(now)}, nil
}
