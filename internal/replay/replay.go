// Package replay tracks nonces already accepted per identity so a signed
// envelope executes at most once inside the replay window.
package replay

import (
	"strconv"
	"time"

	"github.com/ppiankov/cmdgate/internal/shard"
)

// DefaultExpiry is how long a nonce is remembered.
const DefaultExpiry = 5 * time.Minute

// Cache is a sharded set of (identity, nonce) keys with first-seen times.
type Cache struct {
	expiry  time.Duration
	entries *shard.Map[time.Time]
}

// New creates a Cache that forgets nonces after expiry.
func New(expiry time.Duration) *Cache {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Cache{expiry: expiry, entries: shard.New[time.Time](0)}
}

// Key returns the cache key for a nonce. The identity is length-prefixed,
// so identities containing ':' (did:key) cannot collide with another
// identity/nonce split.
func Key(identity, nonce string) string {
	return strconv.Itoa(len(identity)) + ":" + identity + nonce
}

// Seen reports whether the nonce was already accepted for identity.
func (c *Cache) Seen(identity, nonce string) bool {
	k := Key(identity, nonce)
	var ok bool
	c.entries.With(k, func(m map[string]time.Time) {
		_, ok = m[k]
	})
	return ok
}

// Insert records the nonce if absent. Returns false when it was already
// present; check-and-insert is atomic per key.
func (c *Cache) Insert(identity, nonce string, now time.Time) bool {
	k := Key(identity, nonce)
	inserted := false
	c.entries.With(k, func(m map[string]time.Time) {
		if _, exists := m[k]; exists {
			return
		}
		m[k] = now
		inserted = true
	})
	return inserted
}

// Sweep forgets nonces first seen more than the expiry ago.
// Returns the number of entries removed.
func (c *Cache) Sweep(now time.Time) int {
	removed := 0
	c.entries.Range(func(m map[string]time.Time) {
		for k, seen := range m {
			if now.Sub(seen) > c.expiry {
				delete(m, k)
				removed++
			}
		}
	})
	return removed
}

// Len returns the number of remembered nonces.
func (c *Cache) Len() int {
	return c.entries.Len()
}
