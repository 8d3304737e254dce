package alert

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/cmdgate/internal/model"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	header := fmt.Sprintf("cmdgate: %s", event.Decision)
	if event.Type != "" {
		header += " (" + event.Type + ")"
	}
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": header,
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Identity:* %s", event.Identity)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Method:* %s", event.Method)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Level:* %d (%s)", event.RequiredLevel, model.Level(event.RequiredLevel))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	severity := "info"
	switch {
	case event.RequiredLevel >= int(model.LevelRoot):
		severity = "critical"
	case event.RequiredLevel >= int(model.LevelAdmin):
		severity = "error"
	case event.Decision == "deny":
		severity = "warning"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("cmdgate %s: %s by %s", event.Decision, event.Method, event.Identity),
			"severity": severity,
			"source":   "cmdgate",
			"custom_details": map[string]any{
				"identity":       event.Identity,
				"method":         event.Method,
				"required_level": event.RequiredLevel,
				"reason":         event.Reason,
				"type":           event.Type,
			},
		},
	}
	return json.Marshal(payload)
}
