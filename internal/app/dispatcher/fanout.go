package dispatcher

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

// SendToAll dispatches one frame per currently connected device. The
// registry is snapshotted once at call time; devices attaching afterwards
// are not included. Individual device failures never fail the aggregate.
func (d *Dispatcher) SendToAll(ctx context.Context, build dispatch.FrameBuilder, timeout time.Duration) *dispatch.GroupResult {
	ctx, span := d.tracer.Start(ctx, "dispatcher.send_to_all",
		trace.WithAttributes(attribute.String("stream_kind", d.kind.String())),
	)
	defer span.End()

	d.metrics.IncDispatches(ctx, d.kind.String(), "all")

	g := d.fanOut(ctx, "", d.sessions.DeviceIDs(), build, timeout)
	span.SetAttributes(
		attribute.Int("target_devices", g.TargetDevices),
		attribute.Int("successful", g.Successful),
		attribute.Int("failed", g.Failed),
	)
	return g
}

// SendToFleet dispatches one frame per member of the named fleet.
// Membership is snapshotted once at call time. An unknown fleet fails with
// dispatch.ErrGroupNotFound before any outbound write; this is the only
// error the engine surfaces out-of-band.
func (d *Dispatcher) SendToFleet(ctx context.Context, fleetID uuid.UUID, build dispatch.FrameBuilder, timeout time.Duration) (*dispatch.GroupResult, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.send_to_fleet",
		trace.WithAttributes(
			attribute.String("stream_kind", d.kind.String()),
			attribute.String("fleet_id", fleetID.String()),
		),
	)
	defer span.End()

	members, err := d.resolveFleet(ctx, fleetID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	d.metrics.IncDispatches(ctx, d.kind.String(), "fleet")

	g := d.fanOut(ctx, fleetID.String(), members, build, timeout)
	span.SetAttributes(
		attribute.Int("target_devices", g.TargetDevices),
		attribute.Int("successful", g.Successful),
		attribute.Int("failed", g.Failed),
	)
	return g, nil
}

// fanOut runs the per-device sends concurrently and collects every result.
// The frame builder is invoked once per device so the caller can stamp a
// fresh correlation id for each.
func (d *Dispatcher) fanOut(
	ctx context.Context,
	groupID string,
	deviceIDs []string,
	build dispatch.FrameBuilder,
	timeout time.Duration,
) *dispatch.GroupResult {
	g := &dispatch.GroupResult{
		GroupID:       groupID,
		DispatchID:    uuid.NewString(),
		TargetDevices: len(deviceIDs),
		Results:       make([]dispatch.DispatchResult, len(deviceIDs)),
	}

	var eg errgroup.Group
	eg.SetLimit(maxFanOutConcurrency)
	for i, deviceID := range deviceIDs {
		eg.Go(func() error {
			g.Results[i] = d.dispatchOne(ctx, deviceID, build(deviceID), timeout, nil)
			return nil
		})
	}
	eg.Wait()

	g.Tally()

	d.logger.Info(ctx, "Fan-out completed",
		"dispatch_id", g.DispatchID,
		"group_id", groupID,
		"target_devices", g.TargetDevices,
		"successful", g.Successful,
		"failed", g.Failed,
		"timed_out", g.TimedOut,
	)

	return g
}
