package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/cmdgate/internal/approval"
	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/store"
)

// --- Input/Output types ---

// CheckInput defines parameters for the cmdgate_check tool.
type CheckInput struct {
	Identity string `json:"identity" jsonschema:"caller identity (keyring name or did:key)"`
	Method   string `json:"method" jsonschema:"namespaced method, e.g. system.shutdown"`
}

// CheckOutput contains the level decision.
type CheckOutput struct {
	Allowed       bool   `json:"allowed"`
	Reason        string `json:"reason"`
	RequiredLevel int    `json:"required_level"`
	IdentityLevel int    `json:"identity_level"`
}

// PermissionsInput defines parameters for the cmdgate_permissions tool.
type PermissionsInput struct {
	Identity string `json:"identity,omitempty" jsonschema:"identity to show, omit to list all grants"`
}

// PermissionsOutput lists grants.
type PermissionsOutput struct {
	Permissions []PermissionItem `json:"permissions"`
}

// PermissionItem describes a single grant.
type PermissionItem struct {
	Identity       string `json:"identity"`
	Level          int    `json:"level"`
	EffectiveLevel int    `json:"effective_level"`
	DeviceName     string `json:"device_name,omitempty"`
	GrantedBy      string `json:"granted_by,omitempty"`
	GrantedAt      string `json:"granted_at,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	Expired        bool   `json:"expired,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// GrantInput defines parameters for the cmdgate_grant tool.
type GrantInput struct {
	Identity    string `json:"identity,omitempty" jsonschema:"identity to grant, required unless approval_key is set"`
	Level       string `json:"level,omitempty" jsonschema:"level 1-4 or public/normal/admin/root; defaults to the requested level for approvals"`
	ApprovalKey string `json:"approval_key,omitempty" jsonschema:"pending elevation key to approve"`
	Duration    string `json:"duration,omitempty" jsonschema:"grant lifetime (e.g. 1h), omit for a permanent grant"`
	Notes       string `json:"notes,omitempty" jsonschema:"free-form note stored with the grant"`
}

// GrantOutput confirms the grant.
type GrantOutput struct {
	Identity  string `json:"identity"`
	Level     int    `json:"level"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Approved  string `json:"approved,omitempty"`
}

// PendingInput is empty; no parameters needed.
type PendingInput struct{}

// PendingOutput lists pending elevation requests.
type PendingOutput struct {
	Requests []PendingItem `json:"requests"`
}

// PendingItem describes a single elevation request.
type PendingItem struct {
	Key            string `json:"key"`
	Identity       string `json:"identity"`
	Method         string `json:"method"`
	CurrentLevel   int    `json:"current_level"`
	RequestedLevel int    `json:"requested_level"`
	Denials        int    `json:"denials"`
	Reason         string `json:"reason"`
	LastSeenAt     string `json:"last_seen_at"`
}

// AuditInput defines parameters for the cmdgate_audit tool.
type AuditInput struct {
	Identity string `json:"identity,omitempty" jsonschema:"only entries for this identity"`
	Method   string `json:"method,omitempty" jsonschema:"only entries for this method"`
	Denied   bool   `json:"denied,omitempty" jsonschema:"only denials"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of entries (default 100)"`
}

// AuditOutput lists audit entries.
type AuditOutput struct {
	Entries []AuditItem `json:"entries"`
}

// AuditItem is one authorization decision.
type AuditItem struct {
	Timestamp     string `json:"timestamp"`
	Identity      string `json:"identity"`
	Method        string `json:"method"`
	RequiredLevel int    `json:"required_level"`
	Granted       bool   `json:"granted"`
	Reason        string `json:"reason"`
}

// --- Handlers ---

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	if input.Identity == "" || input.Method == "" {
		return nil, CheckOutput{}, errors.New("identity and method are required")
	}
	p, err := s.engine.Permission(ctx, input.Identity)
	if err != nil {
		return nil, CheckOutput{}, err
	}
	allowed, reason := s.engine.Preflight(ctx, input.Identity, input.Method)
	return nil, CheckOutput{
		Allowed:       allowed,
		Reason:        reason,
		RequiredLevel: int(s.engine.RequiredLevel(input.Method)),
		IdentityLevel: int(p.EffectiveLevel(s.engine.Now())),
	}, nil
}

func (s *Server) handlePermissions(ctx context.Context, req *mcpsdk.CallToolRequest, input PermissionsInput) (*mcpsdk.CallToolResult, PermissionsOutput, error) {
	var perms []model.Permission
	if input.Identity != "" {
		p, err := s.engine.Permission(ctx, input.Identity)
		if err != nil {
			return nil, PermissionsOutput{}, err
		}
		perms = []model.Permission{p}
	} else {
		var err error
		perms, err = s.engine.Permissions(ctx)
		if err != nil {
			return nil, PermissionsOutput{}, err
		}
	}

	now := s.engine.Now()
	items := make([]PermissionItem, len(perms))
	for i, p := range perms {
		items[i] = PermissionItem{
			Identity:       p.Identity,
			Level:          int(p.Level),
			EffectiveLevel: int(p.EffectiveLevel(now)),
			DeviceName:     p.DeviceName,
			GrantedBy:      p.GrantedBy,
			Expired:        p.Expired(now),
			Notes:          p.Notes,
		}
		if !p.GrantedAt.IsZero() {
			items[i].GrantedAt = p.GrantedAt.Format(time.RFC3339)
		}
		if p.ExpiresAt != nil {
			items[i].ExpiresAt = p.ExpiresAt.Format(time.RFC3339)
		}
	}
	return nil, PermissionsOutput{Permissions: items}, nil
}

func (s *Server) handleGrant(ctx context.Context, req *mcpsdk.CallToolRequest, input GrantInput) (*mcpsdk.CallToolResult, GrantOutput, error) {
	var level model.Level
	if input.Level != "" {
		var err error
		level, err = model.ParseLevel(input.Level)
		if err != nil {
			return nil, GrantOutput{}, err
		}
	}

	if input.ApprovalKey != "" {
		e, err := approval.Grant(ctx, s.approvals, s.engine, input.ApprovalKey, level, Actor)
		if err != nil {
			return nil, GrantOutput{}, err
		}
		return nil, GrantOutput{
			Identity: e.Identity,
			Level:    int(e.GrantedLevel),
			Approved: e.Key,
		}, nil
	}

	if input.Identity == "" {
		return nil, GrantOutput{}, errors.New("identity or approval_key is required")
	}
	if level == 0 {
		return nil, GrantOutput{}, errors.New("level is required")
	}
	meta := model.PermissionMeta{GrantedBy: Actor, Notes: input.Notes}
	if input.Duration != "" {
		d, err := time.ParseDuration(input.Duration)
		if err != nil {
			return nil, GrantOutput{}, fmt.Errorf("invalid duration %q: %w", input.Duration, err)
		}
		if d <= 0 {
			return nil, GrantOutput{}, fmt.Errorf("duration must be positive, got %s", d)
		}
		exp := s.engine.Now().Add(d).UTC()
		meta.ExpiresAt = &exp
	}
	if err := s.engine.SetPermission(ctx, input.Identity, level, meta); err != nil {
		return nil, GrantOutput{}, err
	}

	out := GrantOutput{Identity: input.Identity, Level: int(level)}
	if meta.ExpiresAt != nil {
		out.ExpiresAt = meta.ExpiresAt.Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	list, err := s.approvals.List(approval.StatusPending)
	if err != nil {
		return nil, PendingOutput{}, err
	}

	items := make([]PendingItem, len(list))
	for i, e := range list {
		items[i] = PendingItem{
			Key:            e.Key,
			Identity:       e.Identity,
			Method:         e.Method,
			CurrentLevel:   int(e.CurrentLevel),
			RequestedLevel: int(e.RequestedLevel),
			Denials:        e.Denials,
			Reason:         e.Reason,
			LastSeenAt:     e.LastSeenAt.Format(time.RFC3339),
		}
	}
	return nil, PendingOutput{Requests: items}, nil
}

func (s *Server) handleAudit(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditInput) (*mcpsdk.CallToolResult, AuditOutput, error) {
	f := store.AuditFilter{
		Identity: input.Identity,
		Method:   input.Method,
		Limit:    input.Limit,
	}
	if input.Denied {
		granted := false
		f.Granted = &granted
	}
	entries, err := s.engine.Audit(ctx, f)
	if err != nil {
		return nil, AuditOutput{}, err
	}

	items := make([]AuditItem, len(entries))
	for i, e := range entries {
		items[i] = AuditItem{
			Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
			Identity:      e.Identity,
			Method:        e.Method,
			RequiredLevel: int(e.RequiredLevel),
			Granted:       e.Granted,
			Reason:        e.Reason,
		}
	}
	return nil, AuditOutput{Entries: items}, nil
}
