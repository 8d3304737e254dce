package transport

import (
	"sync"
	"time"
)

// Direction of a recorded frame.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// HistoryEntry records one request or response crossing the adapter.
type HistoryEntry struct {
	Time      time.Time `json:"time"`
	Peer      string    `json:"peer"`
	Direction Direction `json:"direction"`
	Type      FrameType `json:"type"`
	ID        string    `json:"id,omitempty"`
	Method    string    `json:"method,omitempty"`
}

// history is a fixed-size ring; the oldest entry is overwritten when full.
type history struct {
	mu      sync.Mutex
	entries []HistoryEntry
	next    int
	full    bool
}

func newHistory(size int) *history {
	return &history{entries: make([]HistoryEntry, size)}
}

func (h *history) add(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// snapshot returns entries oldest first.
func (h *history) snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]HistoryEntry(nil), h.entries[:h.next]...)
	}
	out := make([]HistoryEntry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	return append(out, h.entries[:h.next]...)
}
