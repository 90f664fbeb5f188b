package dispatcher

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/internal/infra/messaging/acktracking"
	"github.com/edgesignal/fleethub/internal/infra/messaging/sessions"
	"github.com/edgesignal/fleethub/pkg/common/logger"
)

// RouterMetrics defines the metrics collected by the acknowledgement
// router.
type RouterMetrics interface {
	IncAcksReceived(ctx context.Context, kind, status string)
}

// Router is the single inbound hot path: every acknowledgement the network
// layer receives goes through it. The router bumps the device's activity
// timestamp, hands the ack to the pending-ack table, and holds no state of
// its own. Duplicate and late acks are dropped without error.
type Router struct {
	commandSessions *sessions.Registry
	contentSessions *sessions.Registry
	commandAcks     *acktracking.Table
	contentAcks     *acktracking.Table

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics RouterMetrics
}

// NewRouter creates the acknowledgement router over the per-kind registries
// and tables.
func NewRouter(
	commandSessions, contentSessions *sessions.Registry,
	commandAcks, contentAcks *acktracking.Table,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics RouterMetrics,
) *Router {
	return &Router{
		commandSessions: commandSessions,
		contentSessions: contentSessions,
		commandAcks:     commandAcks,
		contentAcks:     contentAcks,
		logger:          log.With("component", "ack_router"),
		tracer:          tracer,
		metrics:         metrics,
	}
}

// RouteCommandAck routes one command acknowledgement.
func (r *Router) RouteCommandAck(ctx context.Context, deviceID, commandID string, status dispatch.CommandStatus, message string) {
	ack := dispatch.Ack{
		Kind:          dispatch.StreamKindCommand,
		DeviceID:      deviceID,
		CorrelationID: commandID,
		Status:        status,
		Message:       message,
	}
	r.route(ctx, r.commandSessions, r.commandAcks, ack)
}

// RouteContentAck routes one content acknowledgement.
func (r *Router) RouteContentAck(ctx context.Context, deviceID, deliveryID string, status dispatch.ContentStatus, message string, progress *dispatch.ContentProgress) {
	ack := dispatch.Ack{
		Kind:          dispatch.StreamKindContent,
		DeviceID:      deviceID,
		CorrelationID: deliveryID,
		Status:        status,
		Message:       message,
		Progress:      progress,
	}
	r.route(ctx, r.contentSessions, r.contentAcks, ack)
}

func (r *Router) route(ctx context.Context, registry *sessions.Registry, table *acktracking.Table, ack dispatch.Ack) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("stream_kind", ack.Kind.String()),
		attribute.String("device_id", ack.DeviceID),
		attribute.String("correlation_id", ack.CorrelationID),
		attribute.String("status", ack.Status.String()),
	)

	registry.MarkActivity(ack.DeviceID)
	r.metrics.IncAcksReceived(ctx, ack.Kind.String(), ack.Status.String())

	routed := table.DeliverAck(ctx, ack)
	if routed {
		span.AddEvent("ack_routed")
	} else {
		span.AddEvent("ack_dropped")
	}

	r.logger.Debug(ctx, "Acknowledgement processed",
		"stream_kind", ack.Kind.String(),
		"device_id", ack.DeviceID,
		"correlation_id", ack.CorrelationID,
		"status", ack.Status.String(),
		"routed", routed,
	)
}
