package model

import (
	"encoding/json"
	"fmt"
)

// Reserved error codes, following JSON-RPC conventions.
const (
	CodeRequestTimeout   = -32000
	CodePermissionDenied = -32001
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
)

// Auth is the signed authentication block carried by every request.
type Auth struct {
	Identity  string `json:"identity"`
	Signature string `json:"signature"` // base64
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Nonce     string `json:"nonce"`
}

// Complete returns true if all four fields are present.
func (a *Auth) Complete() bool {
	return a != nil && a.Identity != "" && a.Signature != "" && a.Timestamp != 0 && a.Nonce != ""
}

// Request is the wire-level command sent by a peer.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Auth   *Auth           `json:"auth,omitempty"`
}

// Identity returns the caller identity or "" when the request is unsigned.
func (r *Request) Identity() string {
	if r.Auth == nil {
		return ""
	}
	return r.Auth.Identity
}

// Response carries exactly one of Result or Error.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is the structured error of a failed request.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewResult wraps v as a successful response. A nil v encodes as JSON null.
func NewResult(id string, v any) (Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Response{}, fmt.Errorf("marshal result: %w", err)
	}
	return Response{ID: id, Result: raw}, nil
}

// NewError builds an error response.
func NewError(id string, code int, message string, data any) Response {
	return Response{
		ID:    id,
		Error: &RPCError{Code: code, Message: message, Data: data},
	}
}

// Failed returns true if the response carries an error.
func (r Response) Failed() bool {
	return r.Error != nil
}
