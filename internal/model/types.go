package model

import "time"

// Permission is the persistent grant for one identity.
// One record per identity; re-grants supersede, records are never deleted.
type Permission struct {
	Identity   string     `json:"identity"`
	Level      Level      `json:"level"`
	DeviceName string     `json:"device_name,omitempty"`
	GrantedAt  time.Time  `json:"granted_at"`
	GrantedBy  string     `json:"granted_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// Expired returns true if the grant has lapsed at now.
func (p Permission) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// EffectiveLevel returns the level in force at now.
// Expired or malformed grants fall back to DefaultIdentityLevel.
func (p Permission) EffectiveLevel(now time.Time) Level {
	if p.Expired(now) || !p.Level.Valid() {
		return DefaultIdentityLevel
	}
	return p.Level
}

// PermissionMeta carries the optional fields of a grant.
type PermissionMeta struct {
	DeviceName string
	GrantedBy  string
	ExpiresAt  *time.Time
	Notes      string
}

// AuditEntry is one authorization decision. Append-only.
type AuditEntry struct {
	ID            int64     `json:"id,omitempty"`
	Identity      string    `json:"identity"`
	Method        string    `json:"method"`
	RequiredLevel Level     `json:"required_level"`
	Granted       bool      `json:"granted"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// CallContext is passed to command handlers alongside the params.
type CallContext struct {
	PeerID    string    `json:"peer_id"`
	Identity  string    `json:"identity"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
}
