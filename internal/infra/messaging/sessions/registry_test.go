package sessions_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/internal/infra/messaging/sessions"
	"github.com/edgesignal/fleethub/pkg/common/logger"
	"github.com/edgesignal/fleethub/pkg/common/timeutil"
)

// mockRegistryMetrics records metric calls for assertions.
type mockRegistryMetrics struct {
	mu           sync.Mutex
	Connected    int
	Replacements int
}

func (m *mockRegistryMetrics) IncConnectedDevices(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connected++
}

func (m *mockRegistryMetrics) DecConnectedDevices(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connected--
}

func (m *mockRegistryMetrics) SetConnectedDevices(_ context.Context, _ string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connected = count
}

func (m *mockRegistryMetrics) IncSessionReplacements(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Replacements++
}

// mockWaiterFailer records FailAllForDevice calls.
type mockWaiterFailer struct {
	mu    sync.Mutex
	Calls []string
}

func (m *mockWaiterFailer) FailAllForDevice(_ context.Context, deviceID string, reason dispatch.ResolutionReason) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, deviceID+":"+string(reason))
	return 0
}

// fakeClock is a settable timeutil.Provider.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRegistry(failer sessions.WaiterFailer, clock timeutil.Provider) *sessions.Registry {
	return sessions.NewRegistry(
		dispatch.StreamKindCommand,
		4,
		failer,
		clock,
		logger.Noop(),
		&mockRegistryMetrics{},
	)
}

// TestAttachAndGet verifies a new session is inserted and retrievable.
func TestAttachAndGet(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry(&mockWaiterFailer{}, newFakeClock())

	s, err := registry.Attach(ctx, "d1", "")
	require.NoError(t, err)
	require.NotNil(t, s)

	got, ok := registry.Get("d1")
	assert.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, registry.Count())
}

// TestAttachEmptyDeviceID verifies the one precondition attach enforces.
func TestAttachEmptyDeviceID(t *testing.T) {
	registry := newRegistry(&mockWaiterFailer{}, newFakeClock())

	_, err := registry.Attach(context.Background(), "", "")
	assert.ErrorIs(t, err, dispatch.ErrEmptyDeviceID)
}

// TestAttachReplacesExistingSession verifies last-writer-wins: the old
// session is closed, its waiters fail Disconnected, and the registry holds
// exactly one entry for the device.
func TestAttachReplacesExistingSession(t *testing.T) {
	ctx := context.Background()
	failer := &mockWaiterFailer{}
	registry := newRegistry(failer, newFakeClock())

	first, err := registry.Attach(ctx, "d3", "")
	require.NoError(t, err)

	second, err := registry.Attach(ctx, "d3", "")
	require.NoError(t, err)

	assert.True(t, first.Closed(), "replaced session must be closed")
	assert.False(t, second.Closed())
	assert.Equal(t, []string{"d3:disconnected"}, failer.Calls)

	got, ok := registry.Get("d3")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, registry.Count(), "at most one session per device id")

	// The replaced session's channel is observed as end-of-stream.
	_, open := <-first.Frames()
	assert.False(t, open)
}

// TestDetachIsPointerGuarded verifies a stale handler exiting after its
// session was replaced does not remove the replacement.
func TestDetachIsPointerGuarded(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry(&mockWaiterFailer{}, newFakeClock())

	first, _ := registry.Attach(ctx, "d1", "")
	second, _ := registry.Attach(ctx, "d1", "")

	assert.False(t, registry.Detach(ctx, "d1", first), "stale detach must be a no-op")
	got, ok := registry.Get("d1")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, registry.Detach(ctx, "d1", second))
	_, ok = registry.Get("d1")
	assert.False(t, ok)
}

// TestDetachResolvesWaiters verifies detach closes the session and fails
// its pending waiters.
func TestDetachResolvesWaiters(t *testing.T) {
	ctx := context.Background()
	failer := &mockWaiterFailer{}
	registry := newRegistry(failer, newFakeClock())

	s, _ := registry.Attach(ctx, "d1", "")
	require.True(t, registry.Detach(ctx, "d1", s))

	assert.True(t, s.Closed())
	assert.Equal(t, []string{"d1:disconnected"}, failer.Calls)
}

// TestReplaceThenDetachEquivalence verifies replacing a session and then
// detaching the new one leaves the registry as if only the second
// attach+detach had occurred.
func TestReplaceThenDetachEquivalence(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry(&mockWaiterFailer{}, newFakeClock())

	registry.Attach(ctx, "d1", "")
	second, _ := registry.Attach(ctx, "d1", "")
	registry.Detach(ctx, "d1", second)

	assert.Equal(t, 0, registry.Count())
	_, ok := registry.Get("d1")
	assert.False(t, ok)
}

// TestSendAndSlowConsumer verifies non-blocking sends and the slow-consumer
// error once the outbound buffer fills.
func TestSendAndSlowConsumer(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry(&mockWaiterFailer{}, newFakeClock())

	s, _ := registry.Attach(ctx, "d1", "")

	// Buffer size is 4 in these tests.
	for i := range 4 {
		err := s.Send(&dispatch.CommandFrame{CommandID: string(rune('A' + i)), RequiresAck: true})
		require.NoError(t, err)
	}

	err := s.Send(&dispatch.CommandFrame{CommandID: "overflow"})
	assert.ErrorIs(t, err, sessions.ErrSlowConsumer)

	// Draining one frame frees a slot.
	<-s.Frames()
	assert.NoError(t, s.Send(&dispatch.CommandFrame{CommandID: "after-drain"}))
}

// TestSendOnClosedSession verifies writes to a closed session fail with
// ErrSessionClosed rather than panicking.
func TestSendOnClosedSession(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry(&mockWaiterFailer{}, newFakeClock())

	s, _ := registry.Attach(ctx, "d1", "")
	s.Close()

	err := s.Send(&dispatch.CommandFrame{CommandID: "C1"})
	assert.ErrorIs(t, err, sessions.ErrSessionClosed)
}

// TestMarkActivityMonotonic verifies the last-activity timestamp only moves
// forward within one session's lifetime.
func TestMarkActivityMonotonic(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	registry := newRegistry(&mockWaiterFailer{}, clock)

	s, _ := registry.Attach(ctx, "d1", "")
	attached := s.LastActivity()

	clock.Advance(time.Second)
	registry.MarkActivity("d1")
	afterBump := s.LastActivity()
	assert.True(t, afterBump.After(attached))

	// A stale timestamp does not move the clock backward.
	s.MarkActivity(attached)
	assert.Equal(t, afterBump, s.LastActivity())
}

// TestSnapshot verifies the snapshot lists every live session with its
// timestamps, sorted by device id.
func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	registry := newRegistry(&mockWaiterFailer{}, clock)

	registry.Attach(ctx, "b", "")
	registry.Attach(ctx, "a", "")
	registry.Attach(ctx, "c", "")

	snap := registry.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].DeviceID)
	assert.Equal(t, "b", snap[1].DeviceID)
	assert.Equal(t, "c", snap[2].DeviceID)
	assert.Equal(t, clock.Now(), snap[0].ConnectedAt)
}

// TestCloseAll verifies shutdown closes every session and empties the
// registry.
func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	registry := newRegistry(&mockWaiterFailer{}, newFakeClock())

	s1, _ := registry.Attach(ctx, "d1", "")
	s2, _ := registry.Attach(ctx, "d2", "")

	registry.CloseAll(ctx)

	assert.True(t, s1.Closed())
	assert.True(t, s2.Closed())
	assert.Equal(t, 0, registry.Count())
}

// TestResumeHintStored verifies the registry stores the device-supplied
// resume hint without acting on it.
func TestResumeHintStored(t *testing.T) {
	registry := sessions.NewRegistry(
		dispatch.StreamKindContent,
		4,
		&mockWaiterFailer{},
		timeutil.Default(),
		logger.Noop(),
		&mockRegistryMetrics{},
	)

	s, err := registry.Attach(context.Background(), "d1", "D-99")
	require.NoError(t, err)
	assert.Equal(t, "D-99", s.ResumeHint)
}
