package analytics_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appanalytics "github.com/edgesignal/fleethub/internal/app/analytics"
	"github.com/edgesignal/fleethub/internal/domain/analytics"
	"github.com/edgesignal/fleethub/internal/infra/storage"
	"github.com/edgesignal/fleethub/internal/infra/storage/analytics/memory"
	"github.com/edgesignal/fleethub/pkg/common/logger"
	"github.com/edgesignal/fleethub/pkg/common/timeutil"
)

type mockIngestMetrics struct {
	Accepted, Rejected int
	Stored             int
	EventsRejected     int
	Throttled          int
}

func (m *mockIngestMetrics) IncBatches(_ context.Context, accepted bool) {
	if accepted {
		m.Accepted++
	} else {
		m.Rejected++
	}
}

func (m *mockIngestMetrics) IncEventsStored(_ context.Context, count int) { m.Stored += count }

func (m *mockIngestMetrics) IncEventsRejected(_ context.Context, count int) {
	m.EventsRejected += count
}

func (m *mockIngestMetrics) IncThrottleAdvisories(context.Context) { m.Throttled++ }

func newService(cfg appanalytics.Config, metrics appanalytics.Metrics) *appanalytics.Service {
	return appanalytics.NewService(
		cfg,
		memory.NewStore(16),
		timeutil.Default(),
		logger.Noop(),
		storage.NoOpTracer(),
		metrics,
	)
}

func id16(b byte) []byte { return bytes.Repeat([]byte{b}, 16) }

func event(idByte byte, kind string) analytics.Event {
	return analytics.Event{ID: id16(idByte), Kind: kind, AtMS: 1700000000000}
}

// TestIngestAcceptsValidBatch verifies the happy path: every event stored,
// the ack echoes the batch id and advertises the policy.
func TestIngestAcceptsValidBatch(t *testing.T) {
	metrics := &mockIngestMetrics{}
	svc := newService(appanalytics.Config{MaxBatchSize: 10, BatchesPerSecond: 100, Burst: 100}, metrics)

	ack := svc.Ingest(context.Background(), analytics.Batch{
		BatchID:           id16(0xAA),
		DeviceFingerprint: 42,
		Events:            []analytics.Event{event(1, "playback"), event(2, "heartbeat")},
	})

	assert.True(t, ack.Accepted)
	assert.Equal(t, id16(0xAA), ack.BatchID)
	assert.Empty(t, ack.RejectedEventIDs)
	assert.Equal(t, 10, ack.Policy.MaxBatchSize)
	assert.Equal(t, 2, metrics.Stored)

	stats, ok := svc.Stats(context.Background(), 42)
	require.True(t, ok)
	assert.Equal(t, 2, stats.StoredEvents)
	assert.Equal(t, 1, stats.EventsByKind["playback"])
}

// TestIngestRejectsBadBatchID verifies batch-level validation of the
// 16-byte batch id.
func TestIngestRejectsBadBatchID(t *testing.T) {
	metrics := &mockIngestMetrics{}
	svc := newService(appanalytics.Config{}, metrics)

	ack := svc.Ingest(context.Background(), analytics.Batch{
		BatchID: []byte{1, 2, 3},
		Events:  []analytics.Event{event(1, "")},
	})

	assert.False(t, ack.Accepted)
	assert.Equal(t, 1, metrics.Rejected)

	_, ok := svc.Stats(context.Background(), 0)
	assert.False(t, ok, "nothing should be stored for a rejected batch")
}

// TestIngestRejectsOversizedBatch verifies the max-batch-size policy.
func TestIngestRejectsOversizedBatch(t *testing.T) {
	svc := newService(appanalytics.Config{MaxBatchSize: 1}, &mockIngestMetrics{})

	ack := svc.Ingest(context.Background(), analytics.Batch{
		BatchID: id16(0xBB),
		Events:  []analytics.Event{event(1, ""), event(2, "")},
	})

	assert.False(t, ack.Accepted)
	assert.Equal(t, 1, ack.Policy.MaxBatchSize)
}

// TestIngestRejectsInvalidEventIDs verifies per-event validation: the batch
// is accepted while malformed event ids are listed on the ack.
func TestIngestRejectsInvalidEventIDs(t *testing.T) {
	metrics := &mockIngestMetrics{}
	svc := newService(appanalytics.Config{MaxBatchSize: 10, BatchesPerSecond: 100, Burst: 100}, metrics)

	bad := analytics.Event{ID: []byte{9}, Kind: "playback"}
	ack := svc.Ingest(context.Background(), analytics.Batch{
		BatchID:           id16(0xCC),
		DeviceFingerprint: 7,
		Events:            []analytics.Event{event(1, "playback"), bad},
	})

	assert.True(t, ack.Accepted)
	require.Len(t, ack.RejectedEventIDs, 1)
	assert.Equal(t, []byte{9}, ack.RejectedEventIDs[0])
	assert.Equal(t, 1, metrics.Stored)
	assert.Equal(t, 1, metrics.EventsRejected)
}

// TestIngestThrottleAdvisory verifies that batches beyond the per-device
// rate produce a non-zero throttle advisory while still being accepted.
func TestIngestThrottleAdvisory(t *testing.T) {
	metrics := &mockIngestMetrics{}
	svc := newService(appanalytics.Config{MaxBatchSize: 10, BatchesPerSecond: 1, Burst: 1}, metrics)

	first := svc.Ingest(context.Background(), analytics.Batch{BatchID: id16(1), DeviceFingerprint: 1, Events: []analytics.Event{event(1, "")}})
	second := svc.Ingest(context.Background(), analytics.Batch{BatchID: id16(2), DeviceFingerprint: 1, Events: []analytics.Event{event(2, "")}})

	assert.True(t, first.Accepted)
	assert.Zero(t, first.ThrottleMS)
	assert.True(t, second.Accepted)
	assert.Positive(t, second.ThrottleMS)
	assert.Equal(t, 1, metrics.Throttled)
}

// TestRingEviction verifies the store keeps only the most recent events
// once a device's ring fills.
func TestRingEviction(t *testing.T) {
	store := memory.NewStore(4)
	ctx := context.Background()

	for i := range 6 {
		err := store.Append(ctx, 1, []analytics.Event{event(byte(i), "e")}, timeutil.Default().Now())
		require.NoError(t, err)
	}

	stats, ok := store.Stats(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, 4, stats.StoredEvents)
}
