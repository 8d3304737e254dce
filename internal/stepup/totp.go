package stepup

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPPeriod is the code step used for validation.
const TOTPPeriod = 30

// totpSkew is the number of adjacent periods accepted on either side.
const totpSkew = 1

// TOTPVerifier validates per-identity TOTP codes carried in request params.
// A code is accepted at most once per identity while it remains valid.
type TOTPVerifier struct {
	secrets map[string]string
	clock   clock.Clock

	mu   sync.Mutex
	used map[string]map[string]time.Time // identity -> code -> accepted at
}

// NewTOTPVerifier creates a verifier from identity → base32 secret.
func NewTOTPVerifier(secrets map[string]string) *TOTPVerifier {
	s := make(map[string]string, len(secrets))
	for k, v := range secrets {
		s[k] = v
	}
	return &TOTPVerifier{secrets: s, clock: clock.New(), used: make(map[string]map[string]time.Time)}
}

// WithClock replaces the time source.
func (v *TOTPVerifier) WithClock(c clock.Clock) *TOTPVerifier {
	v.clock = c
	return v
}

// Verify implements Verifier.
func (v *TOTPVerifier) Verify(_ context.Context, identity, _ string, params json.RawMessage) error {
	secret, ok := v.secrets[identity]
	if !ok {
		return rejected("no TOTP secret for %s", identity)
	}
	code := stringParam(params, ParamCode)
	if code == "" {
		return ErrMissingCode
	}

	now := v.clock.Now().UTC()
	valid, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    TOTPPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return rejected("invalid TOTP code")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	codes := v.used[identity]
	if codes == nil {
		codes = make(map[string]time.Time)
		v.used[identity] = codes
	}
	// a code stays valid for the whole skew span, so it is remembered that long
	span := time.Duration(2*totpSkew+1) * TOTPPeriod * time.Second
	for c, at := range codes {
		if now.Sub(at) > span {
			delete(codes, c)
		}
	}
	if _, seen := codes[code]; seen {
		return rejected("TOTP code already used")
	}
	codes[code] = now
	return nil
}

// GenerateCode returns the current code for secret. Used by the CLI and tests.
func GenerateCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCode(secret, t)
}
