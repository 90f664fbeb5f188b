// Package rpc implements the device-facing gRPC services: the streaming
// gateway the dispatch engine pushes frames through, and the unary
// analytics ingest endpoint.
package rpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/edgesignal/fleethub/internal/app/dispatcher"
	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/internal/infra/rpc/wire"
	"github.com/edgesignal/fleethub/pkg/common/logger"
)

// GatewayMetrics defines the metrics collected by the device gateway.
type GatewayMetrics interface {
	IncStreamsOpened(ctx context.Context, kind string)
	IncStreamsClosed(ctx context.Context, kind string)
	IncFramesPushed(ctx context.Context, kind string)
}

// GatewayServer implements the DeviceGateway service. Each subscribe call
// attaches a session in the registry (replacing any previous one) and then
// drains the session's outbound channel into the gRPC stream until the
// device goes away. Acknowledge calls feed the router.
type GatewayServer struct {
	hub   *dispatcher.Hub
	audit dispatcher.AuditSink

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics GatewayMetrics
}

// NewGatewayServer creates the gateway over the dispatch engine.
func NewGatewayServer(hub *dispatcher.Hub, audit dispatcher.AuditSink, log *logger.Logger, tracer trace.Tracer, metrics GatewayMetrics) *GatewayServer {
	if audit == nil {
		audit = dispatcher.NoopAuditSink{}
	}
	return &GatewayServer{
		hub:     hub,
		audit:   audit,
		logger:  log.With("component", "device_gateway"),
		tracer:  tracer,
		metrics: metrics,
	}
}

// SubscribeCommands opens the device's command stream.
func (s *GatewayServer) SubscribeCommands(req *wire.SubscribeRequest, stream wire.DeviceGateway_SubscribeCommandsServer) error {
	return s.subscribe(dispatch.StreamKindCommand, req.DeviceID, "", stream, func(frame dispatch.Frame) error {
		cmd, ok := frame.(*dispatch.CommandFrame)
		if !ok {
			return fmt.Errorf("unexpected frame type on command stream: %T", frame)
		}
		return stream.Send(wire.CommandFrameFromDomain(cmd))
	})
}

// SubscribeContent opens the device's content stream.
func (s *GatewayServer) SubscribeContent(req *wire.SubscribeRequest, stream wire.DeviceGateway_SubscribeContentServer) error {
	return s.subscribe(dispatch.StreamKindContent, req.DeviceID, req.LastReceivedDeliveryID, stream, func(frame dispatch.Frame) error {
		content, ok := frame.(*dispatch.ContentFrame)
		if !ok {
			return fmt.Errorf("unexpected frame type on content stream: %T", frame)
		}
		return stream.Send(wire.ContentFrameFromDomain(content))
	})
}

// streamContext is the subset of the generated stream types the subscribe
// loop needs.
type streamContext interface {
	Context() context.Context
}

// subscribe runs one device's streaming session: attach (replacing any
// previous session), push frames until the channel or the transport ends,
// then detach. A closed frame channel is a clean end-of-stream: it means
// the session was replaced or the hub is shutting down.
func (s *GatewayServer) subscribe(
	kind dispatch.StreamKind,
	deviceID, resumeHint string,
	stream streamContext,
	send func(dispatch.Frame) error,
) error {
	log := logger.NewLoggerContext(s.logger.With(
		"operation", "subscribe",
		"stream_kind", kind.String(),
	))
	ctx, span := s.tracer.Start(stream.Context(), "gateway.subscribe",
		trace.WithAttributes(
			attribute.String("stream_kind", kind.String()),
			attribute.String("device_id", deviceID),
		),
	)
	defer span.End()

	if deviceID == "" {
		span.SetStatus(codes.Error, "device id is required")
		return status.Error(grpcCodes.InvalidArgument, "device id is required")
	}
	log.Add("device_id", deviceID)

	registry, err := s.hub.Sessions(kind)
	if err != nil {
		span.RecordError(err)
		return status.Error(grpcCodes.Internal, err.Error())
	}

	session, err := registry.Attach(ctx, deviceID, resumeHint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to attach session")
		return status.Errorf(grpcCodes.InvalidArgument, "failed to attach session: %v", err)
	}
	span.AddEvent("session_attached")
	log.Info(ctx, "Device subscribed")

	s.metrics.IncStreamsOpened(ctx, kind.String())
	s.audit.Publish(ctx, dispatcher.AuditEvent{
		Type:       dispatcher.AuditTypeSessionAttached,
		StreamKind: kind.String(),
		DeviceID:   deviceID,
	})

	defer func() {
		// A no-op when the session was already replaced by a reconnect.
		registry.Detach(context.WithoutCancel(ctx), deviceID, session)
		s.metrics.IncStreamsClosed(ctx, kind.String())
		s.audit.Publish(ctx, dispatcher.AuditEvent{
			Type:       dispatcher.AuditTypeSessionDetached,
			StreamKind: kind.String(),
			DeviceID:   deviceID,
		})
	}()

	for {
		select {
		case frame, ok := <-session.Frames():
			if !ok {
				// Session replaced by a reconnect, or hub shutdown. The
				// device observes a clean end-of-stream.
				span.AddEvent("session_superseded")
				log.Info(ctx, "Session ended by replacement or shutdown")
				return nil
			}

			if err := send(frame); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to push frame")
				log.Warn(ctx, "Failed to push frame, dropping session",
					"correlation_id", frame.CorrelationID(),
					"error", err,
				)
				return status.Errorf(grpcCodes.Unavailable, "failed to push frame: %v", err)
			}
			s.metrics.IncFramesPushed(ctx, kind.String())

		case <-ctx.Done():
			span.AddEvent("stream_context_done")
			log.Info(ctx, "Device disconnected")
			return ctx.Err()
		}
	}
}

// AcknowledgeCommand reports a command's processing status.
func (s *GatewayServer) AcknowledgeCommand(ctx context.Context, ack *wire.CommandAck) (*wire.AckReceipt, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.acknowledge_command",
		trace.WithAttributes(
			attribute.String("device_id", ack.DeviceID),
			attribute.String("command_id", ack.CommandID),
			attribute.String("status", ack.Status),
		),
	)
	defer span.End()

	if ack.DeviceID == "" || ack.CommandID == "" {
		span.SetStatus(codes.Error, "device id and command id are required")
		return nil, status.Error(grpcCodes.InvalidArgument, "device id and command id are required")
	}

	s.hub.Router().RouteCommandAck(ctx, ack.DeviceID, ack.CommandID, dispatch.ParseCommandStatus(ack.Status), ack.Message)

	return &wire.AckReceipt{Accepted: true, RetryAfterSeconds: 0}, nil
}

// AcknowledgeContent reports a content delivery's status.
func (s *GatewayServer) AcknowledgeContent(ctx context.Context, ack *wire.ContentAck) (*wire.AckReceipt, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.acknowledge_content",
		trace.WithAttributes(
			attribute.String("device_id", ack.DeviceID),
			attribute.String("delivery_id", ack.DeliveryID),
			attribute.String("status", ack.Status),
		),
	)
	defer span.End()

	if ack.DeviceID == "" || ack.DeliveryID == "" {
		span.SetStatus(codes.Error, "device id and delivery id are required")
		return nil, status.Error(grpcCodes.InvalidArgument, "device id and delivery id are required")
	}

	s.hub.Router().RouteContentAck(
		ctx,
		ack.DeviceID,
		ack.DeliveryID,
		dispatch.ParseContentStatus(ack.Status),
		ack.Message,
		wire.ContentProgressToDomain(ack.Progress),
	)

	return &wire.AckReceipt{Accepted: true, RetryAfterSeconds: 0}, nil
}

var _ wire.DeviceGatewayServer = (*GatewayServer)(nil)
