// Package identity resolves caller identities to Ed25519 public keys and
// signs or verifies request auth blocks.
package identity

import (
	"context"
	"crypto/ed25519"
	"errors"
)

// AlgorithmEd25519 is the only supported signature algorithm.
const AlgorithmEd25519 = "ed25519"

// ErrUnknownIdentity is returned when no resolver knows the identity.
var ErrUnknownIdentity = errors.New("unknown identity")

// KeyResolver maps an identity to its public key.
type KeyResolver interface {
	ResolveKey(ctx context.Context, identity string) (ed25519.PublicKey, error)
}

// ResolverFunc adapts a function to KeyResolver.
type ResolverFunc func(ctx context.Context, identity string) (ed25519.PublicKey, error)

// ResolveKey calls f.
func (f ResolverFunc) ResolveKey(ctx context.Context, identity string) (ed25519.PublicKey, error) {
	return f(ctx, identity)
}

// Chain tries each resolver in order. The first key wins. Resolvers that
// report ErrUnknownIdentity are skipped; any other error stops the chain.
type Chain []KeyResolver

// ResolveKey implements KeyResolver.
func (c Chain) ResolveKey(ctx context.Context, identity string) (ed25519.PublicKey, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		key, err := r.ResolveKey(ctx, identity)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrUnknownIdentity) {
			return nil, err
		}
	}
	return nil, ErrUnknownIdentity
}
