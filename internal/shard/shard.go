// Package shard provides a string-keyed map split across independently
// locked buckets. Mutation of one key is atomic; keys in different buckets
// never contend.
package shard

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultCount is the bucket count used when New is given n <= 0.
const DefaultCount = 32

type bucket[V any] struct {
	mu      sync.Mutex
	entries map[string]V
}

// Map is a sharded map. The zero value is not usable; call New.
type Map[V any] struct {
	buckets []*bucket[V]
}

// New creates a Map with n buckets.
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultCount
	}
	m := &Map[V]{buckets: make([]*bucket[V], n)}
	for i := range m.buckets {
		m.buckets[i] = &bucket[V]{entries: make(map[string]V)}
	}
	return m
}

// Index returns the bucket index for key.
func (m *Map[V]) Index(key string) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(len(m.buckets)))
}

// With runs fn with the bucket that owns key locked.
// fn may read and mutate entries but must not retain it.
func (m *Map[V]) With(key string, fn func(entries map[string]V)) {
	b := m.buckets[m.Index(key)]
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.entries)
}

// Range locks each bucket in turn and runs fn on it.
func (m *Map[V]) Range(fn func(entries map[string]V)) {
	for _, b := range m.buckets {
		b.mu.Lock()
		fn(b.entries)
		b.mu.Unlock()
	}
}

// Len returns the total number of entries.
func (m *Map[V]) Len() int {
	n := 0
	m.Range(func(entries map[string]V) { n += len(entries) })
	return n
}
