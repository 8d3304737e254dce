package cmdgate

import (
	"crypto/ed25519"
	"encoding/json"

	"github.com/ppiankov/cmdgate/internal/identity"
	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/router"
	"github.com/ppiankov/cmdgate/internal/transport"
	"github.com/ppiankov/cmdgate/internal/transport/wstransport"
)

// Signer holds a device key and signs outbound calls.
type Signer = identity.Signer

// Handler serves gateway-initiated commands for one namespace.
type Handler = router.Handler

// HandlerFunc adapts a function to Handler.
type HandlerFunc = router.HandlerFunc

// CallContext describes the caller of a gateway-initiated command.
type CallContext = model.CallContext

// RPCError is a gateway error response. Handlers may return one to choose
// the code sent back.
type RPCError = model.RPCError

// CallOptions tunes a single CallRaw.
type CallOptions = transport.CallOptions

// TransportConfig holds timeouts, retries and heartbeat settings.
type TransportConfig = transport.Config

// Error codes carried by RPCError.
const (
	CodeRequestTimeout   = model.CodeRequestTimeout
	CodePermissionDenied = model.CodePermissionDenied
	CodeInvalidRequest   = model.CodeInvalidRequest
	CodeMethodNotFound   = model.CodeMethodNotFound
	CodeInvalidParams    = model.CodeInvalidParams
	CodeInternalError    = model.CodeInternalError
)

// ErrRejected is returned by Dial when the gateway refuses the device.
var ErrRejected = wstransport.ErrRejected

// NewSigner wraps an Ed25519 key. An empty id signs as the key's did:key.
func NewSigner(id string, key ed25519.PrivateKey) *Signer {
	return identity.NewSigner(id, key)
}

// LoadSigner reads a key file written by GenerateSigner or `cmdgate keygen`.
func LoadSigner(path string) (*Signer, error) {
	return identity.LoadSigner(path)
}

// GenerateSigner creates a fresh device key. Persist it with Save.
func GenerateSigner(id string) (*Signer, error) {
	return identity.GenerateSigner(id)
}

// DIDKey returns the did:key identity of pub.
func DIDKey(pub ed25519.PublicKey) string {
	return identity.DIDKey(pub)
}

// DefaultTransportConfig returns the built-in transport settings.
func DefaultTransportConfig() TransportConfig {
	return transport.DefaultConfig()
}

// Errorf builds a handler error that is sent back with code.
func Errorf(code int, format string, args ...any) error {
	return router.Errorf(code, format, args...)
}

// DecodeParams unmarshals handler params, reporting failures as invalid params.
func DecodeParams(params json.RawMessage, v any) error {
	return router.DecodeParams(params, v)
}
