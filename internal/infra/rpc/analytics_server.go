package rpc

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgesignal/fleethub/internal/app/analytics"
	"github.com/edgesignal/fleethub/internal/infra/rpc/wire"
	"github.com/edgesignal/fleethub/pkg/common/logger"
)

// AnalyticsServer implements the AnalyticsIngest service over the
// ingestion application service. Validation failures are in-band on the
// ack, never transport errors; a device should not retry a batch the
// policy rejects.
type AnalyticsServer struct {
	ingest *analytics.Service
	logger *logger.Logger
	tracer trace.Tracer
}

// NewAnalyticsServer creates the ingest endpoint.
func NewAnalyticsServer(ingest *analytics.Service, log *logger.Logger, tracer trace.Tracer) *AnalyticsServer {
	return &AnalyticsServer{
		ingest: ingest,
		logger: log.With("component", "analytics_server"),
		tracer: tracer,
	}
}

// IngestBatch uploads one telemetry batch.
func (s *AnalyticsServer) IngestBatch(ctx context.Context, batch *wire.TelemetryBatch) (*wire.BatchAck, error) {
	ctx, span := s.tracer.Start(ctx, "analytics.ingest_batch",
		trace.WithAttributes(
			attribute.Int("events", len(batch.Events)),
			attribute.Int64("device_fingerprint", int64(batch.DeviceFingerprint)),
		),
	)
	defer span.End()

	ack := s.ingest.Ingest(ctx, wire.BatchToDomain(batch))
	span.SetAttributes(attribute.Bool("accepted", ack.Accepted))

	return wire.BatchAckFromDomain(ack), nil
}

var _ wire.AnalyticsIngestServer = (*AnalyticsServer)(nil)
