package breakglass

import "github.com/ppiankov/cmdgate/internal/model"

// CheckAndConsume returns the consumed token if one overrides the step-up
// requirement for this request, nil otherwise.
//
// Returns nil if:
//   - store is nil
//   - level is below root (tokens only stand in for root step-up)
//   - the request grants permissions to the caller itself
//   - no active token covers identity and method
//
// Consumes the token as a side effect (single-use). Store errors fail closed.
func CheckAndConsume(store *Store, identity, method string, level model.Level, target string) *Token {
	if store == nil {
		return nil
	}
	if level < model.LevelRoot {
		return nil
	}
	if target != "" && model.IsSelfGrant(identity, target) {
		return nil
	}

	token, err := store.Consume(identity, method)
	if err != nil {
		return nil
	}
	return token
}
