// Package approval records elevation requests: when an identity is denied
// for insufficient level, a pending request is kept (one per identity) for
// an operator to approve or deny.
package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ppiankov/cmdgate/internal/model"
)

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects keys that could cause path traversal.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// KeyFor returns the request key of an identity. Identities may contain
// characters that are unsafe in file names, so the key is a digest.
func KeyFor(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return "elevate-" + hex.EncodeToString(sum[:8])
}

// Status represents the state of an elevation request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Elevation is a request to raise an identity's level.
type Elevation struct {
	Key            string      `json:"key"`
	Identity       string      `json:"identity"`
	Status         Status      `json:"status"`
	Method         string      `json:"method"`
	CurrentLevel   model.Level `json:"current_level"`
	RequestedLevel model.Level `json:"requested_level"`
	Reason         string      `json:"reason"`
	Denials        int         `json:"denials"`
	CreatedAt      time.Time   `json:"created_at"`
	LastSeenAt     time.Time   `json:"last_seen_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy     string      `json:"resolved_by,omitempty"`
	GrantedLevel   model.Level `json:"granted_level,omitempty"`
}

// Store manages elevation request files on disk.
type Store struct {
	dir   string
	clock clock.Clock
	mu    sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("cannot create approval directory: %w", err)
	}
	return &Store{dir: dir, clock: clock.New()}, nil
}

// WithClock replaces the time source.
func (s *Store) WithClock(c clock.Clock) *Store {
	s.clock = c
	return s
}

// DefaultDir returns the default elevation request directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cmdgate-pending")
	}
	return filepath.Join(home, ".cmdgate", "pending")
}

// Request records a denial for insufficient level. A pending request for
// the identity is updated in place: the denial count grows and the
// requested level only rises. A resolved request is reopened.
func (s *Store) Request(identity, method string, current, required model.Level, reason string) (*Elevation, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity is required")
	}
	key := KeyFor(identity)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	e, err := s.read(key)
	if err != nil || e.Status != StatusPending {
		e = &Elevation{
			Key:       key,
			Identity:  identity,
			Status:    StatusPending,
			CreatedAt: now,
		}
	}
	e.Denials++
	e.LastSeenAt = now
	e.CurrentLevel = current
	if required > e.RequestedLevel {
		e.RequestedLevel = required
		e.Method = method
		e.Reason = reason
	}

	if err := s.writeAtomic(s.path(key), e); err != nil {
		return nil, fmt.Errorf("write elevation request: %w", err)
	}
	return e, nil
}

// Get returns the request stored under key.
func (s *Store) Get(key string) (*Elevation, error) {
	if err := validateKey(key); err != nil {
		return nil, fmt.Errorf("invalid approval key: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.read(key)
	if err != nil {
		return nil, fmt.Errorf("elevation %q not found: %w", key, err)
	}
	return e, nil
}

// Approve resolves a pending request. A zero level grants the requested level.
func (s *Store) Approve(key string, level model.Level, by string) (*Elevation, error) {
	return s.resolve(key, StatusApproved, level, by)
}

// Deny resolves a pending request without a grant.
func (s *Store) Deny(key, by string) (*Elevation, error) {
	return s.resolve(key, StatusDenied, 0, by)
}

func (s *Store) resolve(key string, status Status, level model.Level, by string) (*Elevation, error) {
	if err := validateKey(key); err != nil {
		return nil, fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.read(key)
	if err != nil {
		return nil, fmt.Errorf("elevation %q not found: %w", key, err)
	}
	if e.Status != StatusPending {
		return nil, fmt.Errorf("elevation %q already %s", key, e.Status)
	}

	now := s.clock.Now().UTC()
	e.Status = status
	e.ResolvedAt = &now
	e.ResolvedBy = by
	if status == StatusApproved {
		if level == 0 {
			level = e.RequestedLevel
		}
		if !level.Valid() {
			return nil, fmt.Errorf("invalid level %d", level)
		}
		e.GrantedLevel = level
	}

	if err := s.writeAtomic(s.path(key), e); err != nil {
		return nil, err
	}
	return e, nil
}

// List returns requests, newest activity first. An empty status lists all.
func (s *Store) List(status Status) ([]Elevation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Elevation
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		e, err := s.read(strings.TrimSuffix(ent.Name(), ".json"))
		if err != nil {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out, nil
}

// Cleanup removes resolved requests older than maxAge.
func (s *Store) Cleanup(maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := s.clock.Now().UTC().Add(-maxAge)
	var errs []error
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(ent.Name(), ".json")
		e, err := s.read(key)
		if err != nil || e.ResolvedAt == nil || e.ResolvedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(s.path(key)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) read(key string) (*Elevation, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, err
	}
	var e Elevation
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) writeAtomic(path string, e *Elevation) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Granter applies an approved level.
type Granter interface {
	SetPermission(ctx context.Context, identity string, level model.Level, meta model.PermissionMeta) error
}

// Grant approves the request under key and applies the level through g.
func Grant(ctx context.Context, s *Store, g Granter, key string, level model.Level, by string) (*Elevation, error) {
	e, err := s.Approve(key, level, by)
	if err != nil {
		return nil, err
	}
	meta := model.PermissionMeta{
		GrantedBy: by,
		Notes:     fmt.Sprintf("elevation %s for %s", e.Key, e.Method),
	}
	if err := g.SetPermission(ctx, e.Identity, e.GrantedLevel, meta); err != nil {
		return nil, fmt.Errorf("apply grant: %w", err)
	}
	return e, nil
}
