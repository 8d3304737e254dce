// Package stepup verifies the extra proof required before root-level
// commands execute.
package stepup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ParamCode is the request param carrying a one-time step-up code.
const ParamCode = "step_up_code"

var (
	// ErrNoVerifier is returned when step-up is required but nothing can verify it.
	ErrNoVerifier = errors.New("no step-up verifier configured")
	// ErrMissingCode is returned when the request carries no step-up code.
	ErrMissingCode = errors.New("step-up code missing")
	// ErrRejected is returned when the proof does not verify.
	ErrRejected = errors.New("step-up rejected")
)

// Verifier checks a step-up proof for one request.
type Verifier interface {
	Verify(ctx context.Context, identity, method string, params json.RawMessage) error
}

// Func adapts a function to Verifier.
type Func func(ctx context.Context, identity, method string, params json.RawMessage) error

// Verify calls f.
func (f Func) Verify(ctx context.Context, identity, method string, params json.RawMessage) error {
	return f(ctx, identity, method, params)
}

// Any succeeds when the first verifier in order succeeds.
type Any []Verifier

// Verify implements Verifier.
func (a Any) Verify(ctx context.Context, identity, method string, params json.RawMessage) error {
	var errs []error
	for _, v := range a {
		if v == nil {
			continue
		}
		err := v.Verify(ctx, identity, method, params)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ErrNoVerifier
	}
	return errors.Join(errs...)
}

// stringParam extracts a top-level string field from JSON object params.
func stringParam(params json.RawMessage, key string) string {
	if len(params) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(params, &m); err != nil {
		return ""
	}
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}
