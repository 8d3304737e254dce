package stepup

import (
	"context"
	"encoding/json"

	"github.com/ppiankov/cmdgate/internal/breakglass"
	"github.com/ppiankov/cmdgate/internal/model"
)

// BreakglassVerifier accepts a root request when an operator-issued token
// covers it. The token is consumed.
type BreakglassVerifier struct {
	Store *breakglass.Store

	// Used, when set, is called with each consumed token.
	Used func(t *breakglass.Token)
}

// Verify implements Verifier.
func (b BreakglassVerifier) Verify(_ context.Context, identity, method string, params json.RawMessage) error {
	var target string
	if method == "device.setPermission" {
		target = stringParam(params, "identity")
	}
	token := breakglass.CheckAndConsume(b.Store, identity, method, model.LevelRoot, target)
	if token == nil {
		return rejected("no active break-glass token for %s", identity)
	}
	if b.Used != nil {
		b.Used(token)
	}
	return nil
}
