// Package proto contains the message types for the bridge gRPC service.
//
// These types are hand-written Go structs with JSON serialization instead of
// protobuf-generated code. This avoids requiring protoc for building while
// keeping the same field layout the WebSocket transport uses.
package proto

import "encoding/json"

// ErrorDetail mirrors the failure descriptor of a response frame.
type ErrorDetail struct {
	Message string `json:"message"`
}

// Frame is a single envelope on the wire. Requests set ID, Func and Args;
// responses set ID, Success and Result or Error; host events set Func and Args.
type Frame struct {
	ID      uint64            `json:"id,omitempty"`
	Func    string            `json:"func,omitempty"`
	Args    []json.RawMessage `json:"args,omitempty"`
	Success *bool             `json:"success,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   *ErrorDetail      `json:"error,omitempty"`
}
