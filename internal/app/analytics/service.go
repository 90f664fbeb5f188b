// Package analytics implements the telemetry ingestion service: batch
// validation, per-device throttling advisories, and an event store with
// aggregate queries for the admin API. The service is deliberately
// independent of the dispatch engine; devices upload batches over a unary
// RPC with no session state.
package analytics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgesignal/fleethub/internal/domain/analytics"
	common "github.com/edgesignal/fleethub/pkg/common"
	"github.com/edgesignal/fleethub/pkg/common/logger"
	"github.com/edgesignal/fleethub/pkg/common/timeutil"
)

// Metrics defines the metrics collected by the ingestion service.
type Metrics interface {
	IncBatches(ctx context.Context, accepted bool)
	IncEventsStored(ctx context.Context, count int)
	IncEventsRejected(ctx context.Context, count int)
	IncThrottleAdvisories(ctx context.Context)
}

// Store persists accepted telemetry events and serves aggregate queries.
type Store interface {
	// Append stores a batch's accepted events for the device.
	Append(ctx context.Context, fingerprint uint32, events []analytics.Event, at time.Time) error
	// Stats returns the aggregate for one device fingerprint.
	Stats(ctx context.Context, fingerprint uint32) (analytics.DeviceStats, bool)
	// ListStats returns aggregates for every device with stored events.
	ListStats(ctx context.Context) []analytics.DeviceStats
}

// Config carries the tunables of the ingestion service.
type Config struct {
	// MaxBatchSize caps the number of events per batch and is advertised
	// to devices on every ack.
	MaxBatchSize int
	// BatchesPerSecond and Burst configure the per-device-fingerprint
	// throttle advisory.
	BatchesPerSecond float64
	Burst            int
}

// Service validates and stores uploaded telemetry batches.
type Service struct {
	cfg   Config
	store Store

	limitersMu sync.Mutex
	limiters   map[uint32]*common.RateLimiter

	clock   timeutil.Provider
	logger  *logger.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewService creates the ingestion service.
func NewService(cfg Config, store Store, clock timeutil.Provider, log *logger.Logger, tracer trace.Tracer, metrics Metrics) *Service {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.BatchesPerSecond <= 0 {
		cfg.BatchesPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		limiters: make(map[uint32]*common.RateLimiter),
		clock:    clock,
		logger:   log.With("component", "analytics_ingest"),
		tracer:   tracer,
		metrics:  metrics,
	}
}

// Policy returns the ingest policy advertised to devices.
func (s *Service) Policy() analytics.Policy {
	return analytics.Policy{MaxBatchSize: s.cfg.MaxBatchSize}
}

// Ingest validates one uploaded batch, stores the events that pass
// per-event validation, and returns the acknowledgement. Batch-level
// validation failures reject the whole batch in-band on the ack; they are
// not transport errors.
func (s *Service) Ingest(ctx context.Context, batch analytics.Batch) analytics.Ack {
	ctx, span := s.tracer.Start(ctx, "analytics.ingest",
		trace.WithAttributes(
			attribute.Int("events", len(batch.Events)),
			attribute.Int64("device_fingerprint", int64(batch.DeviceFingerprint)),
		),
	)
	defer span.End()

	ack := analytics.Ack{
		BatchID: batch.BatchID,
		Policy:  s.Policy(),
	}

	if len(batch.BatchID) != analytics.BatchIDLength {
		span.AddEvent("batch_rejected_invalid_id")
		s.metrics.IncBatches(ctx, false)
		s.logger.Warn(ctx, "Rejected batch with invalid batch id",
			"batch_id_length", len(batch.BatchID),
			"device_fingerprint", batch.DeviceFingerprint,
		)
		return ack
	}

	if len(batch.Events) > s.cfg.MaxBatchSize {
		span.AddEvent("batch_rejected_too_large")
		s.metrics.IncBatches(ctx, false)
		s.logger.Warn(ctx, "Rejected oversized batch",
			"events", len(batch.Events),
			"max_batch_size", s.cfg.MaxBatchSize,
			"device_fingerprint", batch.DeviceFingerprint,
		)
		return ack
	}

	accepted := make([]analytics.Event, 0, len(batch.Events))
	for _, evt := range batch.Events {
		if len(evt.ID) != analytics.EventIDLength {
			ack.RejectedEventIDs = append(ack.RejectedEventIDs, evt.ID)
			continue
		}
		accepted = append(accepted, evt)
	}

	if len(accepted) > 0 {
		if err := s.store.Append(ctx, batch.DeviceFingerprint, accepted, s.clock.Now()); err != nil {
			span.RecordError(err)
			s.metrics.IncBatches(ctx, false)
			s.logger.Error(ctx, "Failed to store telemetry events", "error", err)
			return ack
		}
	}

	ack.Accepted = true
	ack.ThrottleMS = s.throttleFor(ctx, batch.DeviceFingerprint)

	s.metrics.IncBatches(ctx, true)
	s.metrics.IncEventsStored(ctx, len(accepted))
	if n := len(ack.RejectedEventIDs); n > 0 {
		s.metrics.IncEventsRejected(ctx, n)
	}

	if batch.QueueStatus != nil && batch.QueueStatus.QueueExhausted {
		s.logger.Warn(ctx, "Device reports exhausted upload queue",
			"device_fingerprint", batch.DeviceFingerprint,
			"dropped_events", batch.QueueStatus.DroppedEvents,
		)
	}

	s.logger.Debug(ctx, "Ingested telemetry batch",
		"device_fingerprint", batch.DeviceFingerprint,
		"stored", len(accepted),
		"rejected", len(ack.RejectedEventIDs),
		"throttle_ms", ack.ThrottleMS,
	)

	return ack
}

// Stats returns the aggregate for one device fingerprint.
func (s *Service) Stats(ctx context.Context, fingerprint uint32) (analytics.DeviceStats, bool) {
	return s.store.Stats(ctx, fingerprint)
}

// ListStats returns aggregates for every device with stored events.
func (s *Service) ListStats(ctx context.Context) []analytics.DeviceStats {
	return s.store.ListStats(ctx)
}

// throttleFor consumes one token from the device's limiter and converts the
// resulting delay into a throttle advisory.
func (s *Service) throttleFor(ctx context.Context, fingerprint uint32) int64 {
	s.limitersMu.Lock()
	limiter, ok := s.limiters[fingerprint]
	if !ok {
		limiter = common.NewRateLimiter(s.cfg.BatchesPerSecond, s.cfg.Burst)
		s.limiters[fingerprint] = limiter
	}
	s.limitersMu.Unlock()

	delay := limiter.ReserveDelay()
	if delay <= 0 {
		return 0
	}

	s.metrics.IncThrottleAdvisories(ctx)
	return delay.Milliseconds()
}
