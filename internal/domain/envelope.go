package domain

import (
	"encoding/json"
	"fmt"
)

// FuncInitialize is the handshake function name.
const FuncInitialize = "initialize"

// RequestEnvelope is an outbound call from the embedded app to the host.
// Args are marshalled when the envelope is built and never mutated afterwards.
type RequestEnvelope struct {
	ID   uint64            `json:"id"`
	Func string            `json:"func"`
	Args []json.RawMessage `json:"args"`
}

// NewRequestEnvelope marshals args and builds an envelope for fn.
func NewRequestEnvelope(id uint64, fn string, args ...any) (RequestEnvelope, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return RequestEnvelope{}, fmt.Errorf("%w: arg %d of %s: %v", ErrRPCInvalidPayload, i, fn, err)
		}
		raw = append(raw, b)
	}
	return RequestEnvelope{ID: id, Func: fn, Args: raw}, nil
}

// ErrorDetail is the failure descriptor carried by an unsuccessful response.
type ErrorDetail struct {
	Message string `json:"message"`
}

// ResponseEnvelope is the host's answer to a RequestEnvelope, matched by ID.
type ResponseEnvelope struct {
	ID      uint64          `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// Err converts an unsuccessful response into a *HostError. Returns nil on success.
func (r ResponseEnvelope) Err(fn string) error {
	if r.Success {
		return nil
	}
	msg := ErrHostRejected.Error()
	if r.Error != nil && r.Error.Message != "" {
		msg = r.Error.Message
	}
	return &HostError{FuncName: fn, Message: msg}
}

// HostEvent is a host-initiated message that carries no correlation id.
type HostEvent struct {
	Func string            `json:"func"`
	Args []json.RawMessage `json:"args,omitempty"`
}

// Inbound is a single message received from the host: exactly one field is set.
type Inbound struct {
	Response *ResponseEnvelope
	Event    *HostEvent
}
