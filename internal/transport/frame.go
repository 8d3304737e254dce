package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ppiankov/cmdgate/internal/model"
)

// FrameType discriminates transport frames.
type FrameType string

const (
	FrameRequest   FrameType = "request"
	FrameResponse  FrameType = "response"
	FrameEvent     FrameType = "event"
	FrameHeartbeat FrameType = "heartbeat"
	FrameHello     FrameType = "hello"
)

// Frame is the unit exchanged over a connection.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is a one-way notification.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Hello opens a connection. The dialer sends it first, signed for
// HelloMethod; the accepting side answers with a Hello naming the peer id
// it bound the connection to.
type Hello struct {
	Peer string      `json:"peer,omitempty"`
	Auth *model.Auth `json:"auth,omitempty"`
}

// Heartbeat is the payload of a heartbeat frame.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"` // unix milliseconds
}

// ErrMalformedFrame is returned for frames that cannot be decoded.
var ErrMalformedFrame = errors.New("malformed frame")

// EncodeFrame serializes v as the payload of a frame of type t.
func EncodeFrame(t FrameType, v any) ([]byte, error) {
	var payload json.RawMessage
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		payload = raw
	}
	return json.Marshal(Frame{Type: t, Payload: payload})
}

// DecodeFrame parses a raw frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch f.Type {
	case FrameRequest, FrameResponse, FrameEvent, FrameHeartbeat, FrameHello:
		return f, nil
	case "":
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return Frame{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
}
