package hostsdk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hostbridge/internal/adapter/transport"
	"hostbridge/internal/domain"
)

// Transport kinds accepted by Dial.
const (
	TransportWebSocket = "websocket"
	TransportGRPC      = "grpc"
)

// DialOptions selects and tunes the transport Dial connects with.
type DialOptions struct {
	Transport string // TransportWebSocket (default) or TransportGRPC
	Address   string // ws:// URL or host:port
	Token     string

	// RatePerSecond caps outbound calls; 0 disables limiting.
	RatePerSecond float64
	Burst         int
	// MaxFailures consecutive send failures open the circuit for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
	// Interval resets the closed-state failure count; 0 never resets.
	Interval time.Duration

	Logger *slog.Logger
}

// Dial connects to a host and returns an uninitialized Client.
func Dial(ctx context.Context, o DialOptions, opts ...Option) (*Client, error) {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	var (
		t   domain.Transport
		err error
	)
	switch o.Transport {
	case "", TransportWebSocket:
		t, err = transport.DialWebSocket(ctx, o.Address, transport.WebSocketOptions{Token: o.Token, Logger: o.Logger})
	case TransportGRPC:
		t, err = transport.DialGRPC(ctx, o.Address, transport.GRPCOptions{Token: o.Token, Logger: o.Logger})
	default:
		return nil, domain.NewDomainError("hostsdk.Dial", domain.ErrInvalidInput,
			fmt.Sprintf("unknown transport %q", o.Transport))
	}
	if err != nil {
		return nil, err
	}

	resilient := transport.NewResilient(t, transport.ResilienceConfig{
		RatePerSecond: o.RatePerSecond,
		Burst:         o.Burst,
		MaxFailures:   o.MaxFailures,
		OpenTimeout:   o.OpenTimeout,
		Interval:      o.Interval,
	}, o.Logger)

	opts = append([]Option{WithLogger(o.Logger)}, opts...)
	return New(resilient, opts...), nil
}
