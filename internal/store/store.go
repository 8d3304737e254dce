// Package store defines persistence for permission grants and the
// authorization audit trail.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/cmdgate/internal/model"
)

// ErrNotFound is returned when an identity has no stored grant.
var ErrNotFound = errors.New("not found")

// AuditFilter narrows ListAudit. Results are newest first.
type AuditFilter struct {
	Identity string
	Method   string
	Granted  *bool
	Since    time.Time
	Limit    int // 0 = DefaultAuditLimit
}

// DefaultAuditLimit caps ListAudit when the filter sets no limit.
const DefaultAuditLimit = 100

// Store persists permissions (upsert by identity, never deleted) and
// audit entries (append-only).
type Store interface {
	GetPermission(ctx context.Context, identity string) (*model.Permission, error)
	UpsertPermission(ctx context.Context, p model.Permission) error
	ListPermissions(ctx context.Context) ([]model.Permission, error)
	AppendAudit(ctx context.Context, e model.AuditEntry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]model.AuditEntry, error)
	Close() error
}

// EffectiveLimit returns the result cap.
func (f AuditFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultAuditLimit
	}
	return f.Limit
}

// Match reports whether e passes the filter.
func (f AuditFilter) Match(e model.AuditEntry) bool {
	if f.Identity != "" && e.Identity != f.Identity {
		return false
	}
	if f.Method != "" && e.Method != f.Method {
		return false
	}
	if f.Granted != nil && e.Granted != *f.Granted {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
