package policy

import "github.com/ppiankov/cmdgate/internal/model"

// IsHighRisk returns true for commands rate limited on the high-risk budget.
func IsHighRisk(required model.Level) bool {
	return required >= model.LevelAdmin
}

// RequiresStepUp returns true for commands that need a second factor
// when step-up verification is enabled.
func RequiresStepUp(required model.Level) bool {
	return required >= model.LevelRoot
}
