package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter holds criteria for reading entries back.
type Filter struct {
	Identity string
	Method   string
	Decision string    // "allow", "deny" or empty for both
	From     time.Time // zero value = no lower bound
	To       time.Time // zero value = no upper bound
	Limit    int       // keep only the last Limit matches; 0 = all
}

// Summary holds decision counts for a set of entries.
type Summary struct {
	Total          int            `json:"total"`
	AllowCount     int            `json:"allow_count"`
	DenyCount      int            `json:"deny_count"`
	DenyReasons    map[string]int `json:"deny_reasons,omitempty"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
	MaxLevel       int            `json:"max_level"`
}

// ScanResult holds filtered entries and their summary.
type ScanResult struct {
	Entries []AuditEntry `json:"entries"`
	Summary Summary      `json:"summary"`
}

// Scan reads the audit log and returns entries matching the filter.
func Scan(path string, filter Filter) (*ScanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ScanResult{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if !filter.match(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if filter.Limit > 0 && len(result.Entries) > filter.Limit {
		result.Entries = result.Entries[len(result.Entries)-filter.Limit:]
	}
	for _, e := range result.Entries {
		updateSummary(&result.Summary, e)
	}
	return result, nil
}

func (f Filter) match(e AuditEntry) bool {
	if f.Identity != "" && e.Identity != f.Identity {
		return false
	}
	if f.Method != "" && e.Method != f.Method {
		return false
	}
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := e.Time()
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

func updateSummary(s *Summary, entry AuditEntry) {
	s.Total++

	switch entry.Decision {
	case DecisionAllow:
		s.AllowCount++
	case DecisionDeny:
		s.DenyCount++
		if s.DenyReasons == nil {
			s.DenyReasons = make(map[string]int)
		}
		s.DenyReasons[entry.Reason]++
	}

	if entry.RequiredLevel > s.MaxLevel {
		s.MaxLevel = entry.RequiredLevel
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
