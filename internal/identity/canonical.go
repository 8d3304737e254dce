package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned when a signature does not verify.
var ErrInvalidSignature = errors.New("invalid signature")

// signedFields is the signed payload. Field order is part of the wire
// contract: method, timestamp, nonce.
type signedFields struct {
	Method    string `json:"method"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// CanonicalBytes returns the bytes covered by a request signature.
func CanonicalBytes(method string, timestamp int64, nonce string) []byte {
	// Marshal of a flat struct of string/int fields cannot fail.
	data, _ := json.Marshal(signedFields{Method: method, Timestamp: timestamp, Nonce: nonce})
	return data
}

// VerifySignature checks a base64 detached Ed25519 signature over the
// canonical bytes.
func VerifySignature(pub ed25519.PublicKey, method string, timestamp int64, nonce, signature string) error {
	sig, err := decodeSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(pub, CanonicalBytes(method, timestamp, nonce), sig) {
		return ErrInvalidSignature
	}
	return nil
}

func decodeSignature(s string) ([]byte, error) {
	if sig, err := base64.StdEncoding.DecodeString(s); err == nil {
		return sig, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
