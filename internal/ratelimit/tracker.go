package ratelimit

import (
	"time"

	"github.com/ppiankov/cmdgate/internal/shard"
)

// window is the ordered request history of one identity.
type window struct {
	hits []time.Time
	last time.Time
}

// prune drops hits older than the trailing window.
func (w *window) prune(now time.Time, size time.Duration) {
	cutoff := now.Add(-size)
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// Limiter enforces a trailing-window request budget per identity.
// Safe for concurrent use; mutation of one identity's window is atomic.
type Limiter struct {
	cfg     Config
	windows *shard.Map[*window]
}

// NewLimiter creates a Limiter. Zero window or idle TTL take defaults.
func NewLimiter(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &Limiter{cfg: cfg, windows: shard.New[*window](0)}
}

// Config returns the active configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Allow prunes the identity's window, then admits the request if the count
// is below the tier limit. A denied request does not consume a slot.
func (l *Limiter) Allow(identity string, highRisk bool, now time.Time) CheckResult {
	limit := l.cfg.LimitFor(highRisk)
	var result CheckResult

	l.windows.With(identity, func(entries map[string]*window) {
		w := entries[identity]
		if w == nil {
			w = &window{}
			entries[identity] = w
		}
		w.prune(now, l.cfg.Window)
		w.last = now

		result = Check(len(w.hits), limit, l.cfg.Window)
		if !result.Exceeded {
			w.hits = append(w.hits, now)
		}
	})
	return result
}

// Count returns the identity's requests inside the trailing window.
func (l *Limiter) Count(identity string, now time.Time) int {
	var n int
	l.windows.With(identity, func(entries map[string]*window) {
		if w := entries[identity]; w != nil {
			w.prune(now, l.cfg.Window)
			n = len(w.hits)
		}
	})
	return n
}

// Sweep removes windows idle for longer than the idle TTL.
// Returns the number of identities evicted.
func (l *Limiter) Sweep(now time.Time) int {
	evicted := 0
	l.windows.Range(func(entries map[string]*window) {
		for id, w := range entries {
			if now.Sub(w.last) > l.cfg.IdleTTL {
				delete(entries, id)
				evicted++
			}
		}
	})
	return evicted
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	return l.windows.Len()
}
