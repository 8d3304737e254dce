package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/cmdgate/internal/model"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ScanResult as a human-readable text timeline.
func FormatTimeline(result *ScanResult) string {
	if len(result.Entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Audit | %s–%s UTC\n",
		formatDateRange(result.Summary.FirstTimestamp),
		formatTimeOnly(result.Summary.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		fmt.Fprintf(&b, "%-10s L%-2d %-6s %-24s %-24s %s\n",
			formatTimeOnly(e.Timestamp),
			e.RequiredLevel,
			strings.ToUpper(e.Decision),
			truncate(e.Identity, 24),
			truncate(e.Method, 24),
			e.Reason)
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ScanResult as indented JSON.
func FormatJSON(result *ScanResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s Summary) string {
	parts := []string{}
	if s.AllowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allow", s.AllowCount))
	}
	if s.DenyCount > 0 {
		parts = append(parts, fmt.Sprintf("%d deny", s.DenyCount))
	}

	line := fmt.Sprintf("Summary: %s | Max level: %d (%s)\n",
		strings.Join(parts, ", "), s.MaxLevel, model.Level(s.MaxLevel))

	if len(s.DenyReasons) > 0 {
		reasons := make([]string, 0, len(s.DenyReasons))
		for r := range s.DenyReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			line += fmt.Sprintf("  %4d  %s\n", s.DenyReasons[r], r)
		}
	}
	return line
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
