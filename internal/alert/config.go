// Package alert posts authorization events to webhook endpoints.
package alert

// Event types matched against AlertConfig.Events besides the decision.
const (
	TypeReplay         = "replay"
	TypeStepUpFailed   = "step_up_failed"
	TypeRateLimited    = "rate_limited"
	TypeBreakglassUsed = "breakglass_used"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["deny", "replay", "step_up_failed"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp     string `json:"timestamp"`
	Identity      string `json:"identity"`
	Method        string `json:"method"`
	Decision      string `json:"decision"` // "allow" or "deny"
	Reason        string `json:"reason"`
	RequiredLevel int    `json:"required_level"`
	Type          string `json:"type,omitempty"`
}
