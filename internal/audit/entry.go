package audit

import (
	"time"

	"github.com/ppiankov/cmdgate/internal/model"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Decision labels written to the log.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type AuditEntry struct {
	Timestamp     string `json:"ts"`
	Identity      string `json:"identity"`
	Method        string `json:"method"`
	RequiredLevel int    `json:"required_level"`
	Decision      string `json:"decision"`
	Reason        string `json:"reason"`
	RulesHash     string `json:"rules_hash"`
	PrevHash      string `json:"prev_hash"`
}

// FromModel converts a decision record into a log line.
func FromModel(e model.AuditEntry, rulesHash string) AuditEntry {
	decision := DecisionDeny
	if e.Granted {
		decision = DecisionAllow
	}
	ts := ""
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp.UTC().Format(TimestampFormat)
	}
	return AuditEntry{
		Timestamp:     ts,
		Identity:      e.Identity,
		Method:        e.Method,
		RequiredLevel: int(e.RequiredLevel),
		Decision:      decision,
		Reason:        e.Reason,
		RulesHash:     rulesHash,
	}
}

// Time parses the entry timestamp.
func (e AuditEntry) Time() (time.Time, error) {
	return time.Parse(TimestampFormat, e.Timestamp)
}
