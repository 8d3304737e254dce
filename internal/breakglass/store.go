// Package breakglass stores single-use, time-bounded step-up tokens an
// operator issues for one identity. A root-level request from that
// identity consumes the token in place of an interactive step-up code.
package breakglass

import (
	"crypto/rand"
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
)

// validID matches alphanumeric, dash characters only (bg-<hex>).
var validID = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// validateID rejects IDs that could cause path traversal.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id must not contain '..'")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("id contains invalid characters")
	}
	return nil
}

const (
	// DefaultDuration is the default token validity period.
	DefaultDuration = 10 * time.Minute
	// MaxDuration is the maximum allowed token validity period.
	MaxDuration = 1 * time.Hour
)

// Token is a single-use step-up grant for one identity.
// An empty Method allows any method; otherwise only that exact method.
type Token struct {
	ID        string     `json:"id"`
	Identity  string     `json:"identity"`
	Method    string     `json:"method,omitempty"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	UsedFor   string     `json:"used_for,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsActive reports whether the token is unexpired, unused and unrevoked at now.
func (t *Token) IsActive(now time.Time) bool {
	if t.UsedAt != nil || t.RevokedAt != nil {
		return false
	}
	return now.Before(t.ExpiresAt)
}

// Covers reports whether the token applies to identity and method.
func (t *Token) Covers(identity, method string) bool {
	if t.Identity != identity {
		return false
	}
	return t.Method == "" || t.Method == method
}

// Store manages token files on disk.
type Store struct {
	dir   string
	clock clock.Clock
	mu    sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("cannot create breakglass directory: %w", err)
	}
	return &Store{dir: dir, clock: clock.New()}, nil
}

// WithClock replaces the time source.
func (s *Store) WithClock(c clock.Clock) *Store {
	s.clock = c
	return s
}

// DefaultDir returns the default token directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cmdgate-breakglass")
	}
	return filepath.Join(home, ".cmdgate", "breakglass")
}

// Create issues a token for identity with a mandatory reason.
func (s *Store) Create(identity, method, reason string, duration time.Duration) (*Token, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("identity is required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("break-glass reason is required")
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if duration > MaxDuration {
		return nil, fmt.Errorf("break-glass duration %s exceeds maximum %s", duration, MaxDuration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	token := &Token{
		ID:        id,
		Identity:  identity,
		Method:    method,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}

	if err := s.writeAtomic(s.path(id), token); err != nil {
		return nil, fmt.Errorf("failed to write token: %w", err)
	}
	return token, nil
}

// Consume finds an active token covering identity and method and marks it
// used. Returns nil when none applies. Find and mark happen under one lock.
func (s *Store) Consume(identity, method string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.readAll()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	for i := range tokens {
		t := &tokens[i]
		if !t.IsActive(now) || !t.Covers(identity, method) {
			continue
		}
		t.UsedAt = &now
		t.UsedFor = method
		if err := s.writeAtomic(s.path(t.ID), t); err != nil {
			return nil, fmt.Errorf("mark token used: %w", err)
		}
		return t, nil
	}
	return nil, nil
}

// Revoke marks a token as revoked.
func (s *Store) Revoke(id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid token id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.read(id)
	if err != nil {
		return fmt.Errorf("token %q not found: %w", id, err)
	}

	now := s.clock.Now().UTC()
	token.RevokedAt = &now
	return s.writeAtomic(s.path(id), token)
}

// List returns all tokens ordered by creation time.
func (s *Store) List() ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

// Cleanup removes expired, used and revoked token files.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.readAll()
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	var errs []error
	for i := range tokens {
		if tokens[i].IsActive(now) {
			continue
		}
		if err := os.Remove(s.path(tokens[i].ID)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) readAll() ([]Token, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tokens []Token
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		token, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		tokens = append(tokens, *token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) read(id string) (*Token, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *Store) writeAtomic(path string, token *Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func generateID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return "bg-" + hex.EncodeToString(b), nil
}
