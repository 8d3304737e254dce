package router

import (
	"sync"
	"time"
)

// Counters are the totals for one namespace or the whole router.
type Counters struct {
	Total   uint64 `json:"total"`
	Success uint64 `json:"success"`
	Fail    uint64 `json:"fail"`
}

// Stats is a snapshot of router activity.
type Stats struct {
	Counters
	StartedAt  time.Time           `json:"started_at"`
	Uptime     time.Duration       `json:"uptime_ns"`
	Namespaces map[string]Counters `json:"namespaces"`
}

type stats struct {
	mu      sync.Mutex
	started time.Time
	total   Counters
	byNS    map[string]*Counters
}

func newStats(now time.Time) *stats {
	return &stats{started: now, byNS: make(map[string]*Counters)}
}

func (s *stats) record(namespace string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.add(ok)
	if namespace == "" {
		return
	}
	c := s.byNS[namespace]
	if c == nil {
		c = &Counters{}
		s.byNS[namespace] = c
	}
	c.add(ok)
}

func (c *Counters) add(ok bool) {
	c.Total++
	if ok {
		c.Success++
	} else {
		c.Fail++
	}
}

func (s *stats) snapshot(now time.Time) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{
		Counters:   s.total,
		StartedAt:  s.started,
		Uptime:     now.Sub(s.started),
		Namespaces: make(map[string]Counters, len(s.byNS)),
	}
	for ns, c := range s.byNS {
		out.Namespaces[ns] = *c
	}
	return out
}

// Stats returns the running counters and uptime.
func (r *Router) Stats() Stats {
	return r.stats.snapshot(r.clock.Now())
}
