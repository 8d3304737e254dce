package authz

import (
	"fmt"

	"github.com/ppiankov/cmdgate/internal/model"
)

// Audit reasons. Permission denials are formatted by PermissionDenied.
const (
	ReasonOK               = "OK"
	ReasonMissingAuth      = "Missing auth fields"
	ReasonTimestampExpired = "Timestamp expired"
	ReasonNonceUsed        = "Nonce already used"
	ReasonInvalidSignature = "Invalid signature"
	ReasonUnknownIdentity  = "Unknown identity"
	ReasonRateLimited      = "Rate limit exceeded"
	ReasonStepUpFailed     = "Step-up verification failed"
	ReasonInternal         = "Internal error"
)

// Kind classifies a decision for metrics and alerts.
type Kind string

const (
	KindOK         Kind = "ok"
	KindMalformed  Kind = "malformed"
	KindExpired    Kind = "expired"
	KindReplay     Kind = "replay"
	KindSignature  Kind = "signature"
	KindUnknown    Kind = "unknown_identity"
	KindPermission Kind = "permission"
	KindRateLimit  Kind = "rate_limited"
	KindStepUp     Kind = "step_up"
	KindInternal   Kind = "internal"
)

// PermissionDenied formats the reason for an insufficient level.
func PermissionDenied(have, need model.Level) string {
	return fmt.Sprintf("Permission denied (%d < %d)", have, need)
}

// Decision is the outcome of one authorization check.
type Decision struct {
	Allowed       bool
	Reason        string
	Kind          Kind
	Identity      string
	Method        string
	RequiredLevel model.Level
	IdentityLevel model.Level
}

// Code returns the wire error code for a denial, 0 when allowed.
func (d Decision) Code() int {
	switch {
	case d.Allowed:
		return 0
	case d.Kind == KindMalformed:
		return model.CodeInvalidRequest
	case d.Kind == KindInternal:
		return model.CodeInternalError
	default:
		return model.CodePermissionDenied
	}
}

// Response builds the error response for a denied request.
func (d Decision) Response(id string) model.Response {
	return model.NewError(id, d.Code(), d.Reason, nil)
}
