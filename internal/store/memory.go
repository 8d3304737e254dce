package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/cmdgate/internal/model"
)

// Memory is an in-process Store for tests and ephemeral gateways.
type Memory struct {
	mu          sync.RWMutex
	permissions map[string]model.Permission
	audit       []model.AuditEntry
	closed      bool
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{permissions: make(map[string]model.Permission)}
}

var _ Store = (*Memory)(nil)

// GetPermission implements Store.
func (m *Memory) GetPermission(ctx context.Context, identity string) (*model.Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("store closed")
	}
	p, ok := m.permissions[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// UpsertPermission implements Store.
func (m *Memory) UpsertPermission(ctx context.Context, p model.Permission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidatePermission(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("store closed")
	}
	m.permissions[p.Identity] = p
	return nil
}

// ListPermissions implements Store. Ordered by identity.
func (m *Memory) ListPermissions(ctx context.Context) ([]model.Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// AppendAudit implements Store.
func (m *Memory) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("store closed")
	}
	e.ID = int64(len(m.audit) + 1)
	m.audit = append(m.audit, e)
	return nil
}

// ListAudit implements Store.
func (m *Memory) ListAudit(ctx context.Context, f AuditFilter) ([]model.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := f.EffectiveLimit()
	var out []model.AuditEntry
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if f.Match(m.audit[i]) {
			out = append(out, m.audit[i])
		}
	}
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ValidatePermission checks the fields every backend requires.
func ValidatePermission(p model.Permission) error {
	if p.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	if !p.Level.Valid() {
		return fmt.Errorf("invalid level %d", p.Level)
	}
	return nil
}
