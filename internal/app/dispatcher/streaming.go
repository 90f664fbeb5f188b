package dispatcher

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

// SendStream dispatches one ack-required frame to one device and returns a
// stream of progress updates: one per non-final ack, then exactly one
// terminal update carrying the outcome, then end-of-stream. Cancelling ctx
// before the terminal event cancels the waiter (best-effort; a simultaneous
// ack completion wins) and ends the stream.
func (d *Dispatcher) SendStream(ctx context.Context, deviceID string, frame dispatch.Frame, timeout time.Duration) <-chan dispatch.Event {
	d.metrics.IncDispatches(ctx, d.kind.String(), "device")

	out := newEventStream(0)
	go func() {
		defer out.Close()
		d.streamOne(ctx, deviceID, frame, timeout, out, nil)
	}()

	return out.Events()
}

// streamOne runs one device's streaming dispatch, emitting progress and the
// terminal update on out. The optional tag decorates every update with its
// fan-out position. Returns the per-device result.
func (d *Dispatcher) streamOne(
	ctx context.Context,
	deviceID string,
	frame dispatch.Frame,
	timeout time.Duration,
	out *eventStream,
	tag func(*dispatch.ProgressUpdate),
) dispatch.DispatchResult {
	ctx, span := d.tracer.Start(ctx, "dispatcher.stream_one",
		trace.WithAttributes(
			attribute.String("stream_kind", d.kind.String()),
			attribute.String("device_id", deviceID),
			attribute.String("correlation_id", frame.CorrelationID()),
		),
	)
	defer span.End()

	progress := func(ack dispatch.Ack) {
		update := &dispatch.ProgressUpdate{
			DeviceID:      ack.DeviceID,
			CorrelationID: ack.CorrelationID,
			Status:        ack.Status.String(),
			Message:       ack.Message,
			Progress:      ack.Progress,
		}
		if tag != nil {
			tag(update)
		}
		if !out.TryEmit(dispatch.Event{Type: dispatch.EventTypeProgress, Progress: update}) {
			d.logger.Debug(ctx, "Dropped progress update on stalled stream",
				"device_id", deviceID,
				"correlation_id", ack.CorrelationID,
			)
		}
	}

	result := d.dispatchOne(ctx, deviceID, frame, timeout, progress)

	terminal := &dispatch.ProgressUpdate{
		DeviceID:      result.DeviceID,
		CorrelationID: result.CorrelationID,
		Message:       result.Message,
		Terminal:      true,
		Outcome:       result.Outcome,
	}
	if result.Outcome == dispatch.OutcomeNotConnected {
		terminal.Message = "Device not connected"
	}
	if result.FinalAck != nil {
		terminal.Status = result.FinalAck.Status.String()
		terminal.Progress = result.FinalAck.Progress
	}
	if tag != nil {
		tag(terminal)
	}

	if !result.Success() {
		span.SetStatus(codes.Error, result.Outcome.String())
	}
	out.Emit(ctx, dispatch.Event{Type: dispatch.EventTypeProgress, Progress: terminal})

	return result
}

// SendStreamToAll runs a streaming fan-out over every connected device.
// The stream opens with a Started meta event, interleaves per-device
// updates tagged with the fan-out position (no cross-device ordering is
// guaranteed), and closes with a Complete meta event once every per-device
// stream has ended.
func (d *Dispatcher) SendStreamToAll(ctx context.Context, build dispatch.FrameBuilder, timeout time.Duration) <-chan dispatch.Event {
	d.metrics.IncDispatches(ctx, d.kind.String(), "all")
	return d.streamGroup(ctx, "", d.sessions.DeviceIDs(), build, timeout)
}

// SendStreamToFleet runs a streaming fan-out over the named fleet.
// An unknown fleet fails with dispatch.ErrGroupNotFound before any
// outbound write.
func (d *Dispatcher) SendStreamToFleet(ctx context.Context, fleetID uuid.UUID, build dispatch.FrameBuilder, timeout time.Duration) (<-chan dispatch.Event, error) {
	members, err := d.resolveFleet(ctx, fleetID)
	if err != nil {
		return nil, err
	}

	d.metrics.IncDispatches(ctx, d.kind.String(), "fleet")
	return d.streamGroup(ctx, fleetID.String(), members, build, timeout), nil
}

func (d *Dispatcher) streamGroup(
	ctx context.Context,
	groupID string,
	deviceIDs []string,
	build dispatch.FrameBuilder,
	timeout time.Duration,
) <-chan dispatch.Event {
	out := newEventStream(0)
	dispatchID := uuid.NewString()
	total := len(deviceIDs)

	go func() {
		defer out.Close()

		out.Emit(ctx, dispatch.Event{
			Type: dispatch.EventTypeStarted,
			Started: &dispatch.Started{
				GroupID:      groupID,
				DispatchID:   dispatchID,
				TotalDevices: total,
			},
		})

		var completed, successful, failed atomic.Int64

		var eg errgroup.Group
		eg.SetLimit(maxFanOutConcurrency)
		for _, deviceID := range deviceIDs {
			eg.Go(func() error {
				tag := func(u *dispatch.ProgressUpdate) {
					u.TotalDevices = total
					u.CompletedDevices = int(completed.Load())
					if u.Terminal {
						u.CompletedDevices = int(completed.Add(1))
					}
				}

				result := d.streamOne(ctx, deviceID, build(deviceID), timeout, out, tag)
				if result.Success() {
					successful.Add(1)
				} else {
					failed.Add(1)
				}
				return nil
			})
		}
		eg.Wait()

		out.Emit(ctx, dispatch.Event{
			Type: dispatch.EventTypeComplete,
			Complete: &dispatch.Complete{
				Successful: int(successful.Load()),
				Failed:     int(failed.Load()),
			},
		})

		d.logger.Info(ctx, "Streaming fan-out completed",
			"dispatch_id", dispatchID,
			"group_id", groupID,
			"target_devices", total,
			"successful", successful.Load(),
			"failed", failed.Load(),
		)
	}()

	return out.Events()
}
