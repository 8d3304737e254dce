package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/benbjohnson/clock"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/cmdgate/internal/model"
)

// Signer produces auth blocks for outbound requests.
type Signer struct {
	identity string
	key      ed25519.PrivateKey
	clock    clock.Clock
}

// NewSigner creates a Signer. An empty identity defaults to the did:key
// of the key's public half.
func NewSigner(identity string, key ed25519.PrivateKey) *Signer {
	if identity == "" {
		identity = DIDKey(key.Public().(ed25519.PublicKey))
	}
	return &Signer{identity: identity, key: key, clock: clock.New()}
}

// WithClock replaces the time source.
func (s *Signer) WithClock(c clock.Clock) *Signer {
	s.clock = c
	return s
}

// Identity returns the identity the signer signs as.
func (s *Signer) Identity() string {
	return s.identity
}

// PublicKey returns the verifying key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// Sign returns a fresh auth block for method.
func (s *Signer) Sign(method string) (*model.Auth, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	ts := s.clock.Now().UnixMilli()
	sig := ed25519.Sign(s.key, CanonicalBytes(method, ts, nonce))
	return &model.Auth{
		Identity:  s.identity,
		Signature: base64.StdEncoding.EncodeToString(sig),
		Timestamp: ts,
		Nonce:     nonce,
	}, nil
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// KeyFile is the on-disk form of a device's own signing key.
type KeyFile struct {
	Identity   string `yaml:"identity,omitempty"`
	PrivateKey string `yaml:"private_key"`
}

// LoadSigner reads a key file. private_key is base64 of a 32-byte seed or
// a 64-byte private key.
func LoadSigner(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf KeyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(kf.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private_key: %w", err)
	}

	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	default:
		return nil, errors.New("private_key must be a 32-byte seed or 64-byte key")
	}
	return NewSigner(kf.Identity, key), nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner(identity string) (*Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewSigner(identity, key), nil
}

// Save writes the signer as a key file readable by LoadSigner. The file
// holds the private seed and is created with mode 0600; an existing file
// is never overwritten.
func (s *Signer) Save(path string) error {
	data, err := yaml.Marshal(KeyFile{
		Identity:   s.identity,
		PrivateKey: base64.StdEncoding.EncodeToString(s.key.Seed()),
	})
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	return f.Close()
}
