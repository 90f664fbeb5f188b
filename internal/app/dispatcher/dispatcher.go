// Package dispatcher implements the administrative send path of the
// dispatch engine: it translates a "send X to one device, all devices, or a
// fleet" intent into outbound writes on live sessions plus waiters in the
// pending-ack table, and shapes the per-device results returned to the
// caller.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/internal/domain/fleet"
	"github.com/edgesignal/fleethub/internal/infra/messaging/acktracking"
	"github.com/edgesignal/fleethub/internal/infra/messaging/sessions"
	"github.com/edgesignal/fleethub/pkg/common/logger"
	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

// maxFanOutConcurrency bounds the number of in-flight per-device sends of a
// single fan-out.
const maxFanOutConcurrency = 64

// Metrics defines the metrics collected by the dispatcher.
type Metrics interface {
	IncDispatches(ctx context.Context, kind, target string)
	IncDispatchOutcomes(ctx context.Context, kind, outcome string)
	IncFramesSent(ctx context.Context, kind string)
	IncSlowConsumerDrops(ctx context.Context, kind string)
}

// Option is a functional option for configuring a Dispatcher.
type Option func(*Dispatcher)

// WithAuditSink routes dispatch outcomes to the given audit sink.
func WithAuditSink(sink AuditSink) Option {
	return func(d *Dispatcher) { d.audit = sink }
}

// Dispatcher dispatches frames on one stream kind. There is one instance
// for commands and one for content; the two namespaces share nothing.
type Dispatcher struct {
	kind     dispatch.StreamKind
	sessions *sessions.Registry
	acks     *acktracking.Table
	fleets   fleet.MembershipOracle
	audit    AuditSink

	closed atomic.Bool

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewDispatcher creates a dispatcher over the given session registry and
// pending-ack table.
func NewDispatcher(
	kind dispatch.StreamKind,
	registry *sessions.Registry,
	acks *acktracking.Table,
	fleets fleet.MembershipOracle,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics Metrics,
	options ...Option,
) *Dispatcher {
	d := &Dispatcher{
		kind:     kind,
		sessions: registry,
		acks:     acks,
		fleets:   fleets,
		audit:    NoopAuditSink{},
		logger:   log.With("component", "dispatcher", "stream_kind", kind.String()),
		tracer:   tracer,
		metrics:  metrics,
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Kind returns the stream kind this dispatcher serves.
func (d *Dispatcher) Kind() dispatch.StreamKind { return d.kind }

// Close rejects all subsequent dispatches. In-flight waiters are resolved
// separately by the pending-ack table's shutdown.
func (d *Dispatcher) Close() { d.closed.Store(true) }

// Send dispatches one frame to one device and blocks until the per-device
// outcome is known: terminal ack, timeout, disconnect, cancellation, or
// shutdown. Frames that do not require an ack resolve Completed as soon as
// the outbound write succeeds.
func (d *Dispatcher) Send(ctx context.Context, deviceID string, frame dispatch.Frame, timeout time.Duration) dispatch.DispatchResult {
	ctx, span := d.tracer.Start(ctx, "dispatcher.send",
		trace.WithAttributes(
			attribute.String("stream_kind", d.kind.String()),
			attribute.String("device_id", deviceID),
			attribute.String("correlation_id", frame.CorrelationID()),
		),
	)
	defer span.End()

	d.metrics.IncDispatches(ctx, d.kind.String(), "device")
	result := d.dispatchOne(ctx, deviceID, frame, timeout, nil)

	span.SetAttributes(attribute.String("outcome", result.Outcome.String()))
	if !result.Success() {
		span.SetStatus(codes.Error, result.Outcome.String())
	}

	return result
}

// dispatchOne is the shared per-device send path used by the unary,
// fan-out, and streaming operations. The progress sink, when non-nil, is
// attached to the waiter and receives every non-final ack.
func (d *Dispatcher) dispatchOne(
	ctx context.Context,
	deviceID string,
	frame dispatch.Frame,
	timeout time.Duration,
	progress acktracking.ProgressFunc,
) dispatch.DispatchResult {
	result := dispatch.DispatchResult{
		DeviceID:      deviceID,
		CorrelationID: frame.CorrelationID(),
	}

	if d.closed.Load() {
		result.Outcome = dispatch.OutcomeShuttingDown
		return d.finish(ctx, result)
	}

	if frame.CorrelationID() == "" {
		result.Outcome = dispatch.OutcomeFailed
		result.Message = dispatch.ErrEmptyCorrelationID.Error()
		return d.finish(ctx, result)
	}

	session, ok := d.sessions.Get(deviceID)
	if !ok {
		result.Outcome = dispatch.OutcomeNotConnected
		return d.finish(ctx, result)
	}

	if !frame.NeedsAck() {
		if err := session.Send(frame); err != nil {
			d.dropSession(ctx, deviceID, session, err)
			result.Outcome = dispatch.OutcomeDisconnected
			return d.finish(ctx, result)
		}
		d.metrics.IncFramesSent(ctx, d.kind.String())
		result.Outcome = dispatch.OutcomeCompleted
		return d.finish(ctx, result)
	}

	// Register before writing so an ack arriving immediately after the
	// outbound write always finds its waiter.
	w := d.acks.Register(ctx, deviceID, frame.CorrelationID(), timeout, progress)

	if err := session.Send(frame); err != nil {
		d.dropSession(ctx, deviceID, session, err)
		d.acks.Fail(ctx, w, dispatch.ResolutionDisconnected)
		return d.finish(ctx, d.resultFrom(result, <-w.Result()))
	}
	d.metrics.IncFramesSent(ctx, d.kind.String())

	// The session may have been replaced between lookup and registration,
	// in which case its waiter sweep ran before the waiter existed.
	if session.Closed() {
		d.acks.Fail(ctx, w, dispatch.ResolutionDisconnected)
	}

	select {
	case res := <-w.Result():
		return d.finish(ctx, d.resultFrom(result, res))
	case <-ctx.Done():
		// The caller abandoned the call. A simultaneous resolution wins;
		// either way the result channel now holds the final value.
		d.acks.Cancel(ctx, w)
		return d.finish(ctx, d.resultFrom(result, <-w.Result()))
	}
}

// resultFrom maps a waiter resolution onto the result shell.
func (d *Dispatcher) resultFrom(result dispatch.DispatchResult, res dispatch.Resolution) dispatch.DispatchResult {
	result.Outcome = res.Outcome()
	if res.Ack != nil {
		result.Message = res.Ack.Message
		result.FinalAck = res.Ack
	}
	return result
}

// finish records metrics, audit, and logging for a per-device result.
func (d *Dispatcher) finish(ctx context.Context, result dispatch.DispatchResult) dispatch.DispatchResult {
	d.metrics.IncDispatchOutcomes(ctx, d.kind.String(), result.Outcome.String())
	d.audit.Publish(ctx, AuditEvent{
		Type:          AuditTypeDispatch,
		StreamKind:    d.kind.String(),
		DeviceID:      result.DeviceID,
		CorrelationID: result.CorrelationID,
		Outcome:       result.Outcome.String(),
		Message:       result.Message,
	})

	if result.Success() {
		d.logger.Debug(ctx, "Dispatch completed",
			"device_id", result.DeviceID,
			"correlation_id", result.CorrelationID,
		)
	} else {
		d.logger.Info(ctx, "Dispatch did not complete",
			"device_id", result.DeviceID,
			"correlation_id", result.CorrelationID,
			"outcome", result.Outcome.String(),
			"message", result.Message,
		)
	}

	return result
}

// dropSession detaches a session after a failed outbound write. The detach
// resolves every waiter the device still has.
func (d *Dispatcher) dropSession(ctx context.Context, deviceID string, s *sessions.DeviceSession, cause error) {
	if errors.Is(cause, sessions.ErrSlowConsumer) {
		d.metrics.IncSlowConsumerDrops(ctx, d.kind.String())
		d.logger.Warn(ctx, "Dropping slow-consumer session",
			"device_id", deviceID,
		)
	}
	d.sessions.Detach(ctx, deviceID, s)
}

// resolveFleet snapshots the fleet's membership, mapping an unknown fleet
// to the engine's single out-of-band error.
func (d *Dispatcher) resolveFleet(ctx context.Context, fleetID uuid.UUID) ([]string, error) {
	members, err := d.fleets.MembersOf(ctx, fleetID)
	if err != nil {
		if errors.Is(err, fleet.ErrFleetNotFound) {
			return nil, dispatch.ErrGroupNotFound
		}
		return nil, fmt.Errorf("resolving fleet members: %w", err)
	}
	return members, nil
}
