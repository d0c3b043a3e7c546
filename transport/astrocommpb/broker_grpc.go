package astrocommpb

import (
	"context"

	"google.golang.org/grpc"
)

// BrokerServer is the service the gRPC adaptor implements: Command carries
// a Command/Response pair over a unary RPC, Subscribe streams Events to a
// subscribing client, Bridge is a bidirectional stream used by protocol
// bridges to relay in both directions over one connection.
type BrokerServer interface {
	Command(context.Context, *Frame) (*Frame, error)
	Subscribe(*Frame, Broker_SubscribeServer) error
	Bridge(Broker_BridgeServer) error
}

// BrokerClient is the corresponding client-side surface.
type BrokerClient interface {
	Command(ctx context.Context, in *Frame, opts ...grpc.CallOption) (*Frame, error)
	Subscribe(ctx context.Context, in *Frame, opts ...grpc.CallOption) (Broker_SubscribeClient, error)
	Bridge(ctx context.Context, opts ...grpc.CallOption) (Broker_BridgeClient, error)
}

type brokerClient struct {
	cc grpc.ClientConnInterface
}

// NewBrokerClient builds a client bound to cc, forcing the raw Frame codec.
func NewBrokerClient(cc grpc.ClientConnInterface) BrokerClient {
	return &brokerClient{cc: cc}
}

func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(Name)}, opts...)
}

func (c *brokerClient) Command(ctx context.Context, in *Frame, opts ...grpc.CallOption) (*Frame, error) {
	out := new(Frame)
	if err := c.cc.Invoke(ctx, "/astrocomm.Broker/Command", in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *brokerClient) Subscribe(ctx context.Context, in *Frame, opts ...grpc.CallOption) (Broker_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &Broker_ServiceDesc.Streams[0], "/astrocomm.Broker/Subscribe", callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &brokerSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *brokerClient) Bridge(ctx context.Context, opts ...grpc.CallOption) (Broker_BridgeClient, error) {
	stream, err := c.cc.NewStream(ctx, &Broker_ServiceDesc.Streams[1], "/astrocomm.Broker/Bridge", callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	return &brokerBridgeClient{stream}, nil
}

// Broker_SubscribeClient/Server and Broker_BridgeClient/Server are the
// streaming handles, named the way protoc-gen-go-grpc would generate them.
type Broker_SubscribeClient interface {
	Recv() (*Frame, error)
	grpc.ClientStream
}

type brokerSubscribeClient struct{ grpc.ClientStream }

func (x *brokerSubscribeClient) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type Broker_SubscribeServer interface {
	Send(*Frame) error
	grpc.ServerStream
}

type brokerSubscribeServer struct{ grpc.ServerStream }

func (x *brokerSubscribeServer) Send(m *Frame) error { return x.ServerStream.SendMsg(m) }

type Broker_BridgeClient interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ClientStream
}

type brokerBridgeClient struct{ grpc.ClientStream }

func (x *brokerBridgeClient) Send(m *Frame) error { return x.ClientStream.SendMsg(m) }
func (x *brokerBridgeClient) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type Broker_BridgeServer interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ServerStream
}

type brokerBridgeServer struct{ grpc.ServerStream }

func (x *brokerBridgeServer) Send(m *Frame) error { return x.ServerStream.SendMsg(m) }
func (x *brokerBridgeServer) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Broker_Command_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).Command(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/astrocomm.Broker/Command"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).Command(ctx, req.(*Frame))
	}
	return interceptor(ctx, in, info, handler)
}

func _Broker_Subscribe_Handler(srv any, stream grpc.ServerStream) error {
	m := new(Frame)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(BrokerServer).Subscribe(m, &brokerSubscribeServer{stream})
}

func _Broker_Bridge_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(BrokerServer).Bridge(&brokerBridgeServer{stream})
}

// Broker_ServiceDesc is the grpc.ServiceDesc registered with the server,
// shaped the way protoc-gen-go-grpc emits it.
var Broker_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "astrocomm.Broker",
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Command", Handler: _Broker_Command_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: _Broker_Subscribe_Handler, ServerStreams: true},
		{StreamName: "Bridge", Handler: _Broker_Bridge_Handler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "astrocomm.proto",
}

// RegisterBrokerServer registers srv on s.
func RegisterBrokerServer(s grpc.ServiceRegistrar, srv BrokerServer) {
	s.RegisterService(&Broker_ServiceDesc, srv)
}
