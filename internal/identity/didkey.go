package identity

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-varint"
)

const (
	didKeyPrefix = "did:key:"
	// multibase prefix for base58btc
	multibaseBase58BTC = 'z'
	// multicodec code for ed25519-pub
	codecEd25519Pub = 0xed
)

// DIDKeyResolver resolves self-certifying did:key identities by decoding
// the key embedded in the identifier.
type DIDKeyResolver struct{}

// ResolveKey implements KeyResolver. Identities that are not did:key
// report ErrUnknownIdentity so a Chain moves on.
func (DIDKeyResolver) ResolveKey(_ context.Context, identity string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(identity, didKeyPrefix) {
		return nil, ErrUnknownIdentity
	}
	return ParseDIDKey(identity)
}

// ParseDIDKey decodes an Ed25519 did:key identifier.
func ParseDIDKey(did string) (ed25519.PublicKey, error) {
	rest, ok := strings.CutPrefix(did, didKeyPrefix)
	if !ok || rest == "" {
		return nil, fmt.Errorf("not a did:key identifier: %q", did)
	}
	if rest[0] != multibaseBase58BTC {
		return nil, fmt.Errorf("unsupported multibase prefix %q", rest[0])
	}
	raw, err := base58.Decode(rest[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid base58btc: %w", err)
	}
	code, n, err := varint.FromUvarint(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid multicodec prefix: %w", err)
	}
	if code != codecEd25519Pub {
		return nil, fmt.Errorf("unsupported multicodec 0x%x", code)
	}
	key := raw[n:]
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 key length %d", len(key))
	}
	return ed25519.PublicKey(key), nil
}

// DIDKey encodes an Ed25519 public key as a did:key identifier.
func DIDKey(pub ed25519.PublicKey) string {
	prefix := varint.ToUvarint(codecEd25519Pub)
	raw := make([]byte, 0, len(prefix)+len(pub))
	raw = append(raw, prefix...)
	raw = append(raw, pub...)
	return didKeyPrefix + string(multibaseBase58BTC) + base58.Encode(raw)
}
