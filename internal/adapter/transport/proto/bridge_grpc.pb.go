// Hand-written gRPC service definitions for the bridge service.
// Uses a JSON codec for wire format since we don't have protoc-generated code.

package proto

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// ExchangeMethod is the full method name of the bidirectional envelope stream.
const ExchangeMethod = "/hostbridge.v1.BridgeService/Exchange"

func init() {
	// Registers a process-wide "json" codec; calls opt in via CallContentSubtype("json").
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements grpc encoding.Codec using JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

// BridgeServiceClient is the client API for BridgeService.
type BridgeServiceClient interface {
	Exchange(ctx context.Context, opts ...grpc.CallOption) (BridgeService_ExchangeClient, error)
}

type bridgeServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBridgeServiceClient creates a new BridgeServiceClient.
func NewBridgeServiceClient(cc grpc.ClientConnInterface) BridgeServiceClient {
	return &bridgeServiceClient{cc}
}

func (c *bridgeServiceClient) Exchange(ctx context.Context, opts ...grpc.CallOption) (BridgeService_ExchangeClient, error) {
	opts = append(opts, grpc.CallContentSubtype("json"))
	stream, err := c.cc.NewStream(ctx, &BridgeService_ServiceDesc.Streams[0], ExchangeMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &bridgeServiceExchangeClient{stream}, nil
}

// BridgeService_ExchangeClient is the client side of the Exchange stream.
type BridgeService_ExchangeClient interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ClientStream
}

type bridgeServiceExchangeClient struct {
	grpc.ClientStream
}

func (x *bridgeServiceExchangeClient) Send(m *Frame) error {
	return x.ClientStream.SendMsg(m)
}

func (x *bridgeServiceExchangeClient) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// BridgeServiceServer is the server API for BridgeService.
type BridgeServiceServer interface {
	Exchange(BridgeService_ExchangeServer) error
	mustEmbedUnimplementedBridgeServiceServer()
}

// UnimplementedBridgeServiceServer provides default implementations.
type UnimplementedBridgeServiceServer struct{}

func (UnimplementedBridgeServiceServer) Exchange(BridgeService_ExchangeServer) error {
	return status.Errorf(codes.Unimplemented, "method Exchange not implemented")
}
func (UnimplementedBridgeServiceServer) mustEmbedUnimplementedBridgeServiceServer() {}

// BridgeService_ExchangeServer is the server side of the Exchange stream.
type BridgeService_ExchangeServer interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ServerStream
}

type bridgeServiceExchangeServer struct {
	grpc.ServerStream
}

func (x *bridgeServiceExchangeServer) Send(m *Frame) error {
	return x.ServerStream.SendMsg(m)
}

func (x *bridgeServiceExchangeServer) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterBridgeServiceServer registers the BridgeService with a gRPC server.
func RegisterBridgeServiceServer(s grpc.ServiceRegistrar, srv BridgeServiceServer) {
	s.RegisterService(&BridgeService_ServiceDesc, srv)
}

func _BridgeService_Exchange_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(BridgeServiceServer).Exchange(&bridgeServiceExchangeServer{stream})
}

// BridgeService_ServiceDesc is the grpc.ServiceDesc for BridgeService.
var BridgeService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "hostbridge.v1.BridgeService",
	HandlerType: (*BridgeServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       _BridgeService_Exchange_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "bridge.proto",
}
