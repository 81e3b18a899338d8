package host

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"hostbridge/internal/adapter/transport"
	"hostbridge/internal/adapter/transport/proto"
	"hostbridge/internal/domain"
)

// grpcConn adapts one Exchange stream to domain.HostConn.
type grpcConn struct {
	stream    proto.BridgeService_ExchangeServer
	requests  chan domain.RequestEnvelope
	sendMu    sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func (c *grpcConn) Requests() <-chan domain.RequestEnvelope { return c.requests }

func (c *grpcConn) Reply(ctx context.Context, resp domain.ResponseEnvelope) error {
	return c.send(ctx, transport.FrameFromResponse(resp))
}

func (c *grpcConn) Emit(ctx context.Context, ev domain.HostEvent) error {
	return c.send(ctx, transport.FrameFromEvent(ev))
}

func (c *grpcConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *grpcConn) send(ctx context.Context, f *proto.Frame) error {
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
	return c.stream.Send(f)
}

func (c *grpcConn) recvLoop() {
	defer close(c.requests)
	for {
		frame, err := c.stream.Recv()
		if err != nil {
			return
		}
		req, err := transport.RequestFromFrame(frame)
		if err != nil {
			c.logger.Warn("grpc request dropped", "error", err)
			continue
		}
		select {
		case c.requests <- req:
		case <-c.done:
			return
		}
	}
}

// GRPCServer serves the bridge Exchange stream.
type GRPCServer struct {
	proto.UnimplementedBridgeServiceServer

	shell     *Shell
	auth      Authenticator
	addr      string
	logger    *slog.Logger
	srv       *grpc.Server
	boundAddr string
}

// NewGRPCServer creates a gRPC server for shell. Peers authenticate with
// "authorization: Bearer <token>" metadata.
func NewGRPCServer(shell *Shell, auth Authenticator, addr string, logger *slog.Logger) *GRPCServer {
	g := &GRPCServer{shell: shell, auth: auth, addr: addr, logger: logger}
	g.srv = grpc.NewServer()
	proto.RegisterBridgeServiceServer(g.srv, g)
	return g
}

// Start listens on the configured address. Blocks until ctx is cancelled.
func (g *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return g.Serve(ctx, lis)
}

// Serve accepts streams on lis. Blocks until ctx is cancelled.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	g.boundAddr = lis.Addr().String()
	g.logger.Info("host grpc server started", "addr", g.boundAddr)

	go func() {
		<-ctx.Done()
		g.srv.Stop()
	}()

	if err := g.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Stop closes every stream and the listener.
func (g *GRPCServer) Stop() { g.srv.Stop() }

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (g *GRPCServer) BoundAddr() string { return g.boundAddr }

// Exchange implements proto.BridgeServiceServer.
func (g *GRPCServer) Exchange(stream proto.BridgeService_ExchangeServer) error {
	peer, err := g.auth.Authenticate(bearerToken(stream.Context()))
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	peer.Transport = "grpc"

	conn := &grpcConn{
		stream:   stream,
		requests: make(chan domain.RequestEnvelope, 64),
		done:     make(chan struct{}),
		logger:   g.logger,
	}
	go conn.recvLoop()
	defer conn.Close()

	err = g.shell.Serve(stream.Context(), conn, peer)
	if err != nil && stream.Context().Err() != nil {
		return nil
	}
	return err
}

func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		if token, ok := strings.CutPrefix(v, "Bearer "); ok {
			return token
		}
	}
	return ""
}
