package wire

import (
	"context"

	"google.golang.org/grpc"
)

// AnalyticsIngest method names.
const (
	AnalyticsIngestService = "fleethub.v1.AnalyticsIngest"

	MethodIngestBatch = "/fleethub.v1.AnalyticsIngest/IngestBatch"
)

// AnalyticsIngestServer is the server API for the AnalyticsIngest service.
type AnalyticsIngestServer interface {
	// IngestBatch uploads one telemetry batch.
	IngestBatch(context.Context, *TelemetryBatch) (*BatchAck, error)
}

func _AnalyticsIngest_IngestBatch_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TelemetryBatch)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalyticsIngestServer).IngestBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodIngestBatch}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalyticsIngestServer).IngestBatch(ctx, req.(*TelemetryBatch))
	}
	return interceptor(ctx, in, info, handler)
}

// AnalyticsIngestServiceDesc is the grpc.ServiceDesc for the
// AnalyticsIngest service.
var AnalyticsIngestServiceDesc = grpc.ServiceDesc{
	ServiceName: AnalyticsIngestService,
	HandlerType: (*AnalyticsIngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "IngestBatch",
			Handler:    _AnalyticsIngest_IngestBatch_Handler,
		},
	},
	Metadata: "fleethub/v1/analytics_ingest",
}

// RegisterAnalyticsIngestServer registers the service implementation with
// the gRPC server.
func RegisterAnalyticsIngestServer(s grpc.ServiceRegistrar, srv AnalyticsIngestServer) {
	s.RegisterService(&AnalyticsIngestServiceDesc, srv)
}

// AnalyticsIngestClient is the client API for the AnalyticsIngest service.
type AnalyticsIngestClient struct {
	cc grpc.ClientConnInterface
}

// NewAnalyticsIngestClient creates a client over the given connection.
func NewAnalyticsIngestClient(cc grpc.ClientConnInterface) *AnalyticsIngestClient {
	return &AnalyticsIngestClient{cc: cc}
}

// IngestBatch uploads one telemetry batch.
func (c *AnalyticsIngestClient) IngestBatch(ctx context.Context, in *TelemetryBatch, opts ...grpc.CallOption) (*BatchAck, error) {
	out := new(BatchAck)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(Name)}, opts...)
	if err := c.cc.Invoke(ctx, MethodIngestBatch, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
