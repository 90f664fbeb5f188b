// Package metrics provides the OpenTelemetry implementation of every
// component's metrics interface. A single Recorder backs the dispatch
// engine, the device gateway, and the analytics ingest service.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder implements the metrics interfaces of the dispatch engine, the
// gateway, and the ingestion service over an OTel meter.
type Recorder struct {
	connectedDevices    metric.Int64UpDownCounter
	connectedGauge      metric.Int64Gauge
	sessionReplacements metric.Int64Counter

	dispatches        metric.Int64Counter
	dispatchOutcomes  metric.Int64Counter
	framesSent        metric.Int64Counter
	slowConsumerDrops metric.Int64Counter

	acksReceived    metric.Int64Counter
	acksDropped     metric.Int64Counter
	waitersCreated  metric.Int64Counter
	waitersResolved metric.Int64Counter
	pendingWaiters  metric.Int64Gauge

	streamsOpened metric.Int64Counter
	streamsClosed metric.Int64Counter
	framesPushed  metric.Int64Counter

	batches            metric.Int64Counter
	eventsStored       metric.Int64Counter
	eventsRejected     metric.Int64Counter
	throttleAdvisories metric.Int64Counter
}

// New creates a Recorder on the given meter. Instrument creation errors
// are returned so startup fails loudly on a misconfigured pipeline.
func New(meter metric.Meter) (*Recorder, error) {
	var r Recorder
	var err error

	if r.connectedDevices, err = meter.Int64UpDownCounter("fleethub.sessions.connected"); err != nil {
		return nil, err
	}
	if r.connectedGauge, err = meter.Int64Gauge("fleethub.sessions.connected.current"); err != nil {
		return nil, err
	}
	if r.sessionReplacements, err = meter.Int64Counter("fleethub.sessions.replacements"); err != nil {
		return nil, err
	}
	if r.dispatches, err = meter.Int64Counter("fleethub.dispatch.requests"); err != nil {
		return nil, err
	}
	if r.dispatchOutcomes, err = meter.Int64Counter("fleethub.dispatch.outcomes"); err != nil {
		return nil, err
	}
	if r.framesSent, err = meter.Int64Counter("fleethub.dispatch.frames_sent"); err != nil {
		return nil, err
	}
	if r.slowConsumerDrops, err = meter.Int64Counter("fleethub.dispatch.slow_consumer_drops"); err != nil {
		return nil, err
	}
	if r.acksReceived, err = meter.Int64Counter("fleethub.acks.received"); err != nil {
		return nil, err
	}
	if r.acksDropped, err = meter.Int64Counter("fleethub.acks.dropped"); err != nil {
		return nil, err
	}
	if r.waitersCreated, err = meter.Int64Counter("fleethub.waiters.registered"); err != nil {
		return nil, err
	}
	if r.waitersResolved, err = meter.Int64Counter("fleethub.waiters.resolved"); err != nil {
		return nil, err
	}
	if r.pendingWaiters, err = meter.Int64Gauge("fleethub.waiters.pending"); err != nil {
		return nil, err
	}
	if r.streamsOpened, err = meter.Int64Counter("fleethub.gateway.streams_opened"); err != nil {
		return nil, err
	}
	if r.streamsClosed, err = meter.Int64Counter("fleethub.gateway.streams_closed"); err != nil {
		return nil, err
	}
	if r.framesPushed, err = meter.Int64Counter("fleethub.gateway.frames_pushed"); err != nil {
		return nil, err
	}
	if r.batches, err = meter.Int64Counter("fleethub.analytics.batches"); err != nil {
		return nil, err
	}
	if r.eventsStored, err = meter.Int64Counter("fleethub.analytics.events_stored"); err != nil {
		return nil, err
	}
	if r.eventsRejected, err = meter.Int64Counter("fleethub.analytics.events_rejected"); err != nil {
		return nil, err
	}
	if r.throttleAdvisories, err = meter.Int64Counter("fleethub.analytics.throttle_advisories"); err != nil {
		return nil, err
	}

	return &r, nil
}

func kindAttr(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("stream_kind", kind))
}

// Session registry metrics.

func (r *Recorder) IncConnectedDevices(ctx context.Context, kind string) {
	r.connectedDevices.Add(ctx, 1, kindAttr(kind))
}

func (r *Recorder) DecConnectedDevices(ctx context.Context, kind string) {
	r.connectedDevices.Add(ctx, -1, kindAttr(kind))
}

func (r *Recorder) SetConnectedDevices(ctx context.Context, kind string, count int) {
	r.connectedGauge.Record(ctx, int64(count), kindAttr(kind))
}

func (r *Recorder) IncSessionReplacements(ctx context.Context, kind string) {
	r.sessionReplacements.Add(ctx, 1, kindAttr(kind))
}

// Dispatcher metrics.

func (r *Recorder) IncDispatches(ctx context.Context, kind, target string) {
	r.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stream_kind", kind),
		attribute.String("target", target),
	))
}

func (r *Recorder) IncDispatchOutcomes(ctx context.Context, kind, outcome string) {
	r.dispatchOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stream_kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (r *Recorder) IncFramesSent(ctx context.Context, kind string) {
	r.framesSent.Add(ctx, 1, kindAttr(kind))
}

func (r *Recorder) IncSlowConsumerDrops(ctx context.Context, kind string) {
	r.slowConsumerDrops.Add(ctx, 1, kindAttr(kind))
}

// Router metrics.

func (r *Recorder) IncAcksReceived(ctx context.Context, kind, status string) {
	r.acksReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stream_kind", kind),
		attribute.String("status", status),
	))
}

// Pending-ack table metrics.

func (r *Recorder) IncWaitersRegistered(ctx context.Context) {
	r.waitersCreated.Add(ctx, 1)
}

func (r *Recorder) IncWaitersResolved(ctx context.Context, reason string) {
	r.waitersResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *Recorder) IncAcksDropped(ctx context.Context) {
	r.acksDropped.Add(ctx, 1)
}

func (r *Recorder) SetPendingWaiters(ctx context.Context, count int) {
	r.pendingWaiters.Record(ctx, int64(count))
}

// Gateway metrics.

func (r *Recorder) IncStreamsOpened(ctx context.Context, kind string) {
	r.streamsOpened.Add(ctx, 1, kindAttr(kind))
}

func (r *Recorder) IncStreamsClosed(ctx context.Context, kind string) {
	r.streamsClosed.Add(ctx, 1, kindAttr(kind))
}

func (r *Recorder) IncFramesPushed(ctx context.Context, kind string) {
	r.framesPushed.Add(ctx, 1, kindAttr(kind))
}

// Analytics ingest metrics.

func (r *Recorder) IncBatches(ctx context.Context, accepted bool) {
	r.batches.Add(ctx, 1, metric.WithAttributes(attribute.Bool("accepted", accepted)))
}

func (r *Recorder) IncEventsStored(ctx context.Context, count int) {
	r.eventsStored.Add(ctx, int64(count))
}

func (r *Recorder) IncEventsRejected(ctx context.Context, count int) {
	r.eventsRejected.Add(ctx, int64(count))
}

func (r *Recorder) IncThrottleAdvisories(ctx context.Context) {
	r.throttleAdvisories.Add(ctx, 1)
}
