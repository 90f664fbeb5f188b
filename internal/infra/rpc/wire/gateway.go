package wire

import (
	"context"

	"google.golang.org/grpc"
)

// DeviceGateway method names.
const (
	DeviceGatewayService = "fleethub.v1.DeviceGateway"

	MethodSubscribeCommands  = "/fleethub.v1.DeviceGateway/SubscribeCommands"
	MethodAcknowledgeCommand = "/fleethub.v1.DeviceGateway/AcknowledgeCommand"
	MethodSubscribeContent   = "/fleethub.v1.DeviceGateway/SubscribeContent"
	MethodAcknowledgeContent = "/fleethub.v1.DeviceGateway/AcknowledgeContent"
)

// DeviceGatewayServer is the server API for the DeviceGateway service.
type DeviceGatewayServer interface {
	// SubscribeCommands opens the device's command stream. The hub pushes
	// CommandFrames until the device disconnects or is replaced.
	SubscribeCommands(*SubscribeRequest, DeviceGateway_SubscribeCommandsServer) error
	// AcknowledgeCommand reports a command's processing status.
	AcknowledgeCommand(context.Context, *CommandAck) (*AckReceipt, error)
	// SubscribeContent opens the device's content stream.
	SubscribeContent(*SubscribeRequest, DeviceGateway_SubscribeContentServer) error
	// AcknowledgeContent reports a content delivery's status.
	AcknowledgeContent(context.Context, *ContentAck) (*AckReceipt, error)
}

// DeviceGateway_SubscribeCommandsServer is the send side of the command
// stream.
type DeviceGateway_SubscribeCommandsServer interface {
	Send(*CommandFrame) error
	grpc.ServerStream
}

type deviceGatewaySubscribeCommandsServer struct {
	grpc.ServerStream
}

func (x *deviceGatewaySubscribeCommandsServer) Send(m *CommandFrame) error {
	return x.ServerStream.SendMsg(m)
}

// DeviceGateway_SubscribeContentServer is the send side of the content
// stream.
type DeviceGateway_SubscribeContentServer interface {
	Send(*ContentFrame) error
	grpc.ServerStream
}

type deviceGatewaySubscribeContentServer struct {
	grpc.ServerStream
}

func (x *deviceGatewaySubscribeContentServer) Send(m *ContentFrame) error {
	return x.ServerStream.SendMsg(m)
}

func _DeviceGateway_SubscribeCommands_Handler(srv any, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DeviceGatewayServer).SubscribeCommands(m, &deviceGatewaySubscribeCommandsServer{stream})
}

func _DeviceGateway_SubscribeContent_Handler(srv any, stream grpc.ServerStream) error {
	m := new(SubscribeRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DeviceGatewayServer).SubscribeContent(m, &deviceGatewaySubscribeContentServer{stream})
}

func _DeviceGateway_AcknowledgeCommand_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CommandAck)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceGatewayServer).AcknowledgeCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodAcknowledgeCommand}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DeviceGatewayServer).AcknowledgeCommand(ctx, req.(*CommandAck))
	}
	return interceptor(ctx, in, info, handler)
}

func _DeviceGateway_AcknowledgeContent_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ContentAck)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceGatewayServer).AcknowledgeContent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodAcknowledgeContent}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DeviceGatewayServer).AcknowledgeContent(ctx, req.(*ContentAck))
	}
	return interceptor(ctx, in, info, handler)
}

// DeviceGatewayServiceDesc is the grpc.ServiceDesc for the DeviceGateway
// service.
var DeviceGatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: DeviceGatewayService,
	HandlerType: (*DeviceGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AcknowledgeCommand",
			Handler:    _DeviceGateway_AcknowledgeCommand_Handler,
		},
		{
			MethodName: "AcknowledgeContent",
			Handler:    _DeviceGateway_AcknowledgeContent_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeCommands",
			Handler:       _DeviceGateway_SubscribeCommands_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "SubscribeContent",
			Handler:       _DeviceGateway_SubscribeContent_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "fleethub/v1/device_gateway",
}

// RegisterDeviceGatewayServer registers the service implementation with the
// gRPC server.
func RegisterDeviceGatewayServer(s grpc.ServiceRegistrar, srv DeviceGatewayServer) {
	s.RegisterService(&DeviceGatewayServiceDesc, srv)
}

var (
	subscribeCommandsStreamDesc = grpc.StreamDesc{
		StreamName:    "SubscribeCommands",
		ServerStreams: true,
	}
	subscribeContentStreamDesc = grpc.StreamDesc{
		StreamName:    "SubscribeContent",
		ServerStreams: true,
	}
)

// DeviceGatewayClient is the client API for the DeviceGateway service.
type DeviceGatewayClient struct {
	cc grpc.ClientConnInterface
}

// NewDeviceGatewayClient creates a client over the given connection.
func NewDeviceGatewayClient(cc grpc.ClientConnInterface) *DeviceGatewayClient {
	return &DeviceGatewayClient{cc: cc}
}

func (c *DeviceGatewayClient) callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(Name)}, opts...)
}

// SubscribeCommands opens the command stream.
func (c *DeviceGatewayClient) SubscribeCommands(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[CommandFrame], error) {
	stream, err := c.cc.NewStream(ctx, &subscribeCommandsStreamDesc, MethodSubscribeCommands, c.callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[SubscribeRequest, CommandFrame]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// SubscribeContent opens the content stream.
func (c *DeviceGatewayClient) SubscribeContent(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[ContentFrame], error) {
	stream, err := c.cc.NewStream(ctx, &subscribeContentStreamDesc, MethodSubscribeContent, c.callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[SubscribeRequest, ContentFrame]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// AcknowledgeCommand reports a command's processing status.
func (c *DeviceGatewayClient) AcknowledgeCommand(ctx context.Context, in *CommandAck, opts ...grpc.CallOption) (*AckReceipt, error) {
	out := new(AckReceipt)
	if err := c.cc.Invoke(ctx, MethodAcknowledgeCommand, in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// AcknowledgeContent reports a content delivery's status.
func (c *DeviceGatewayClient) AcknowledgeContent(ctx context.Context, in *ContentAck, opts ...grpc.CallOption) (*AckReceipt, error) {
	out := new(AckReceipt)
	if err := c.cc.Invoke(ctx, MethodAcknowledgeContent, in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
