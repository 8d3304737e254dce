package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// KeyEntry is one identity in a keyring file.
type KeyEntry struct {
	Algorithm  string `yaml:"algorithm"`
	PublicKey  string `yaml:"public_key"`
	DeviceName string `yaml:"device_name,omitempty"`
}

type keyringFile struct {
	Keys map[string]KeyEntry `yaml:"keys"`
}

// Keyring is a static identity → key map loaded from YAML.
type Keyring struct {
	mu      sync.RWMutex
	entries map[string]KeyEntry
	keys    map[string]ed25519.PublicKey
}

// NewKeyring creates an empty Keyring.
func NewKeyring() *Keyring {
	return &Keyring{
		entries: make(map[string]KeyEntry),
		keys:    make(map[string]ed25519.PublicKey),
	}
}

// LoadKeyring reads a keyring file. A missing file yields an empty keyring.
func LoadKeyring(path string) (*Keyring, error) {
	kr := NewKeyring()
	if path == "" {
		return kr, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return kr, nil
		}
		return nil, fmt.Errorf("read keyring: %w", err)
	}

	var f keyringFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keyring: %w", err)
	}
	for id, e := range f.Keys {
		if err := kr.add(id, e); err != nil {
			return nil, fmt.Errorf("keyring entry %q: %w", id, err)
		}
	}
	return kr, nil
}

// Add registers a public key for identity.
func (k *Keyring) Add(identity string, pub ed25519.PublicKey, deviceName string) error {
	return k.add(identity, KeyEntry{
		Algorithm:  AlgorithmEd25519,
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		DeviceName: deviceName,
	})
}

func (k *Keyring) add(identity string, e KeyEntry) error {
	if identity == "" {
		return fmt.Errorf("empty identity")
	}
	if e.Algorithm == "" {
		e.Algorithm = AlgorithmEd25519
	}
	if e.Algorithm != AlgorithmEd25519 {
		return fmt.Errorf("unsupported algorithm %q", e.Algorithm)
	}
	raw, err := base64.StdEncoding.DecodeString(e.PublicKey)
	if err != nil {
		return fmt.Errorf("invalid public_key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public_key length %d", len(raw))
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[identity] = e
	k.keys[identity] = ed25519.PublicKey(raw)
	return nil
}

// ResolveKey implements KeyResolver.
func (k *Keyring) ResolveKey(_ context.Context, identity string) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[identity]
	if !ok {
		return nil, ErrUnknownIdentity
	}
	return key, nil
}

// Lookup returns the keyring entry for identity.
func (k *Keyring) Lookup(identity string) (KeyEntry, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	e, ok := k.entries[identity]
	return e, ok
}

// Identities returns all identities in sorted order.
func (k *Keyring) Identities() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.entries))
	for id := range k.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Save writes the keyring to path atomically.
func (k *Keyring) Save(path string) error {
	k.mu.RLock()
	f := keyringFile{Keys: make(map[string]KeyEntry, len(k.entries))}
	for id, e := range k.entries {
		f.Keys[id] = e
	}
	k.mu.RUnlock()

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal keyring: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create keyring dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return os.Rename(tmp, path)
}

// Reload replaces the keyring contents with the file at path.
func (k *Keyring) Reload(path string) error {
	fresh, err := LoadKeyring(path)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.entries, k.keys = fresh.entries, fresh.keys
	k.mu.Unlock()
	return nil
}
