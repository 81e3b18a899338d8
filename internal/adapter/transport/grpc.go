package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"hostbridge/internal/adapter/transport/proto"
	"hostbridge/internal/domain"
)

// GRPCOptions configures DialGRPC.
type GRPCOptions struct {
	Token  string
	Buffer int
	Logger *slog.Logger
}

// GRPCClient is a domain.Transport over one BridgeService.Exchange stream.
type GRPCClient struct {
	conn    *grpc.ClientConn
	stream  proto.BridgeService_ExchangeClient
	inbound chan domain.Inbound
	logger  *slog.Logger

	sendMu    sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// DialGRPC opens the exchange stream on target. The token, if any, travels as
// "authorization: Bearer <token>" metadata.
func DialGRPC(ctx context.Context, target string, opts GRPCOptions) (*GRPCClient, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultInboundSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc connect %s: %w", target, err)
	}

	// The stream outlives the dial context.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if opts.Token != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+opts.Token)
	}

	stream, err := proto.NewBridgeServiceClient(conn).Exchange(streamCtx, grpc.WaitForReady(true))
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("grpc exchange %s: %w", target, err)
	}

	c := &GRPCClient{
		conn:    conn,
		stream:  stream,
		inbound: make(chan domain.Inbound, opts.Buffer),
		logger:  opts.Logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.recvLoop()
	return c, nil
}

// Send implements domain.Transport. gRPC stream sends do not honour ctx, so
// it is only checked before writing.
func (c *GRPCClient) Send(ctx context.Context, req domain.RequestEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return domain.ErrTransportClosed
	default:
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	// Any send error means the stream is gone; the cause surfaces on Recv.
	if err := c.stream.Send(FrameFromRequest(req)); err != nil {
		return fmt.Errorf("%w: grpc send: %v", domain.ErrTransportClosed, err)
	}
	return nil
}

// Inbound implements domain.Transport.
func (c *GRPCClient) Inbound() <-chan domain.Inbound { return c.inbound }

// Close implements domain.Transport.
func (c *GRPCClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.sendMu.Lock()
		_ = c.stream.CloseSend()
		c.sendMu.Unlock()
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

func (c *GRPCClient) recvLoop() {
	defer close(c.inbound)
	for {
		frame, err := c.stream.Recv()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("grpc stream ended", "error", err)
			}
			return
		}

		msg, err := InboundFromFrame(frame)
		if err != nil {
			c.logger.Warn("grpc frame dropped", "error", err)
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

var _ domain.Transport = (*GRPCClient)(nil)
