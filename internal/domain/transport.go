package domain

import "context"

// Transport carries envelopes between the embedded app and its host.
// Implementations must deliver outbound envelopes in the order Send is called
// and close the Inbound channel when the underlying medium goes away.
type Transport interface {
	Send(ctx context.Context, req RequestEnvelope) error
	Inbound() <-chan Inbound
	Close() error
}

// HostConn is the host-side end of a Transport.
type HostConn interface {
	// Requests yields envelopes sent by the embedded app. Closed on disconnect.
	Requests() <-chan RequestEnvelope
	Reply(ctx context.Context, resp ResponseEnvelope) error
	Emit(ctx context.Context, ev HostEvent) error
	Close() error
}
