// Package transport provides the channel transports that carry bridge
// envelopes between an embedded app and its host: an in-process pipe, a
// WebSocket client, and a gRPC bidirectional stream.
package transport

import (
	"fmt"

	"hostbridge/internal/adapter/transport/proto"
	"hostbridge/internal/domain"
)

// FrameFromRequest converts an outbound request into its wire frame.
func FrameFromRequest(req domain.RequestEnvelope) *proto.Frame {
	return &proto.Frame{ID: req.ID, Func: req.Func, Args: req.Args}
}

// RequestFromFrame converts a wire frame received by the host into a request.
func RequestFromFrame(f *proto.Frame) (domain.RequestEnvelope, error) {
	if f.ID == 0 || f.Func == "" {
		return domain.RequestEnvelope{}, fmt.Errorf("%w: request frame needs id and func", domain.ErrRPCInvalidPayload)
	}
	return domain.RequestEnvelope{ID: f.ID, Func: f.Func, Args: f.Args}, nil
}

// FrameFromResponse converts a host response into its wire frame.
func FrameFromResponse(resp domain.ResponseEnvelope) *proto.Frame {
	success := resp.Success
	f := &proto.Frame{ID: resp.ID, Success: &success, Result: resp.Result}
	if resp.Error != nil {
		f.Error = &proto.ErrorDetail{Message: resp.Error.Message}
	}
	return f
}

// FrameFromEvent converts a host-initiated event into its wire frame.
func FrameFromEvent(ev domain.HostEvent) *proto.Frame {
	return &proto.Frame{Func: ev.Func, Args: ev.Args}
}

// InboundFromFrame classifies a frame received by the embedded app.
// Frames with a func and no success flag are host events; everything else
// is treated as a response and must carry an id.
func InboundFromFrame(f *proto.Frame) (domain.Inbound, error) {
	if f.Func != "" && f.Success == nil {
		return domain.Inbound{Event: &domain.HostEvent{Func: f.Func, Args: f.Args}}, nil
	}
	if f.ID == 0 {
		return domain.Inbound{}, fmt.Errorf("%w: response frame without id", domain.ErrRPCInvalidPayload)
	}
	resp := domain.ResponseEnvelope{ID: f.ID, Result: f.Result}
	if f.Success != nil {
		resp.Success = *f.Success
	}
	if f.Error != nil {
		resp.Error = &domain.ErrorDetail{Message: f.Error.Message}
	}
	return domain.Inbound{Response: &resp}, nil
}
