package acktracking_test

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/internal/infra/messaging/acktracking"
	"github.com/edgesignal/fleethub/pkg/common/logger"
)

// mockTableMetrics records metric calls for assertions.
type mockTableMetrics struct {
	mu         sync.Mutex
	Registered int
	Resolved   map[string]int
	Dropped    int
	Pending    int
}

func newMockTableMetrics() *mockTableMetrics {
	return &mockTableMetrics{Resolved: make(map[string]int)}
}

func (m *mockTableMetrics) IncWaitersRegistered(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Registered++
}

func (m *mockTableMetrics) IncWaitersResolved(_ context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resolved[reason]++
}

func (m *mockTableMetrics) IncAcksDropped(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Dropped++
}

func (m *mockTableMetrics) SetPendingWaiters(_ context.Context, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pending = count
}

func (m *mockTableMetrics) resolved(reason dispatch.ResolutionReason) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Resolved[string(reason)]
}

func newTable(metrics acktracking.TableMetrics) *acktracking.Table {
	return acktracking.NewTable(logger.Noop(), metrics)
}

func commandAck(deviceID, corrID string, status dispatch.CommandStatus, msg string) dispatch.Ack {
	return dispatch.Ack{
		Kind:          dispatch.StreamKindCommand,
		DeviceID:      deviceID,
		CorrelationID: corrID,
		Status:        status,
		Message:       msg,
	}
}

// TestTerminalAckResolvesWaiter verifies the happy path: register, deliver a
// terminal ack, and read the resolution from the result channel.
func TestTerminalAckResolvesWaiter(t *testing.T) {
	ctx := context.Background()
	table := newTable(newMockTableMetrics())

	w := table.Register(ctx, "d1", "C1", time.Minute, nil)

	ok := table.DeliverAck(ctx, commandAck("d1", "C1", dispatch.CommandStatusCompleted, "done"))
	require.True(t, ok, "terminal ack should find the waiter")

	res := <-w.Result()
	assert.Equal(t, dispatch.ResolutionAcked, res.Reason)
	require.NotNil(t, res.Ack)
	assert.Equal(t, "done", res.Ack.Message)
	assert.Equal(t, dispatch.OutcomeCompleted, res.Outcome())
	assert.Equal(t, 0, table.Pending(), "waiter should be removed after resolution")
}

// TestProgressAckDoesNotComplete verifies that non-terminal statuses flow to
// the progress sink without writing the result slot.
func TestProgressAckDoesNotComplete(t *testing.T) {
	ctx := context.Background()
	table := newTable(newMockTableMetrics())

	var progress []dispatch.Ack
	w := table.Register(ctx, "d1", "C1", time.Minute, func(a dispatch.Ack) {
		progress = append(progress, a)
	})

	table.DeliverAck(ctx, commandAck("d1", "C1", dispatch.CommandStatusReceived, ""))
	require.Len(t, progress, 1)
	assert.False(t, w.Resolved())
	assert.Equal(t, 1, table.Pending())

	table.DeliverAck(ctx, commandAck("d1", "C1", dispatch.CommandStatusCompleted, ""))
	res := <-w.Result()
	assert.Equal(t, dispatch.ResolutionAcked, res.Reason)
}

// TestDuplicateTerminalAckIsDropped verifies that delivering the same
// terminal ack twice is indistinguishable from delivering it once.
func TestDuplicateTerminalAckIsDropped(t *testing.T) {
	ctx := context.Background()
	metrics := newMockTableMetrics()
	table := newTable(metrics)

	w := table.Register(ctx, "d1", "C1", time.Minute, nil)

	ack := commandAck("d1", "C1", dispatch.CommandStatusCompleted, "")
	assert.True(t, table.DeliverAck(ctx, ack))
	assert.False(t, table.DeliverAck(ctx, ack), "second delivery should be dropped")

	res := <-w.Result()
	assert.Equal(t, dispatch.ResolutionAcked, res.Reason)

	select {
	case extra := <-w.Result():
		t.Fatalf("result channel received a second value: %+v", extra)
	default:
	}
}

// TestProgressAfterTerminalIsNoop verifies that a non-final ack arriving
// after a terminal ack is treated as a late duplicate.
func TestProgressAfterTerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	table := newTable(newMockTableMetrics())

	var progress []dispatch.Ack
	w := table.Register(ctx, "d1", "C1", time.Minute, func(a dispatch.Ack) {
		progress = append(progress, a)
	})

	table.DeliverAck(ctx, commandAck("d1", "C1", dispatch.CommandStatusCompleted, ""))
	<-w.Result()

	table.DeliverAck(ctx, commandAck("d1", "C1", dispatch.CommandStatusReceived, ""))
	assert.Empty(t, progress, "no progress should be emitted after the terminal ack")
}

// TestUnknownAckIsDropped verifies acks without a matching waiter are
// non-fatal.
func TestUnknownAckIsDropped(t *testing.T) {
	ctx := context.Background()
	metrics := newMockTableMetrics()
	table := newTable(metrics)

	ok := table.DeliverAck(ctx, commandAck("ghost", "C1", dispatch.CommandStatusCompleted, ""))
	assert.False(t, ok)
	assert.Equal(t, 1, metrics.Dropped)
}

// TestTimeoutResolvesWaiter verifies the timeout fires from register time
// and that a late terminal ack is dropped afterwards.
func TestTimeoutResolvesWaiter(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		metrics := newMockTableMetrics()
		table := newTable(metrics)

		w := table.Register(ctx, "d2", "C3", 500*time.Millisecond, nil)

		time.Sleep(600 * time.Millisecond)
		synctest.Wait()

		res := <-w.Result()
		assert.Equal(t, dispatch.ResolutionTimeout, res.Reason)
		assert.Equal(t, 0, table.Pending())

		// A Completed ack arriving after the timeout is dropped.
		ok := table.DeliverAck(ctx, commandAck("d2", "C3", dispatch.CommandStatusCompleted, ""))
		assert.False(t, ok)
	})
}

// TestProgressDoesNotResetTimeout verifies that non-final acks do not extend
// the timeout budget.
func TestProgressDoesNotResetTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		table := newTable(newMockTableMetrics())

		w := table.Register(ctx, "d1", "C1", 100*time.Millisecond, nil)

		time.Sleep(60 * time.Millisecond)
		table.DeliverAck(ctx, commandAck("d1", "C1", dispatch.CommandStatusReceived, ""))

		time.Sleep(60 * time.Millisecond)
		synctest.Wait()

		res := <-w.Result()
		assert.Equal(t, dispatch.ResolutionTimeout, res.Reason)
	})
}

// TestZeroTimeout verifies the table accepts a zero timeout; the waiter
// fires Timeout essentially immediately unless an ack beats the scheduler.
func TestZeroTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		table := newTable(newMockTableMetrics())

		w := table.Register(ctx, "d1", "C1", 0, nil)
		synctest.Wait()

		res := <-w.Result()
		assert.Equal(t, dispatch.ResolutionTimeout, res.Reason)
	})
}

// TestDuplicateRegistrationCancelsOld verifies that re-registering the same
// (device, correlation id) replaces the old waiter, which resolves
// Cancelled.
func TestDuplicateRegistrationCancelsOld(t *testing.T) {
	ctx := context.Background()
	table := newTable(newMockTableMetrics())

	w1 := table.Register(ctx, "d1", "C1", time.Minute, nil)
	w2 := table.Register(ctx, "d1", "C1", time.Minute, nil)

	res := <-w1.Result()
	assert.Equal(t, dispatch.ResolutionCancelled, res.Reason)
	assert.Equal(t, 1, table.Pending())

	table.DeliverAck(ctx, commandAck("d1", "C1", dispatch.CommandStatusCompleted, ""))
	res = <-w2.Result()
	assert.Equal(t, dispatch.ResolutionAcked, res.Reason)
}

// TestFailAllForDevice verifies that tearing down a device resolves every
// one of its waiters and leaves other devices' waiters alone.
func TestFailAllForDevice(t *testing.T) {
	ctx := context.Background()
	table := newTable(newMockTableMetrics())

	w1 := table.Register(ctx, "d3", "C1", time.Minute, nil)
	w2 := table.Register(ctx, "d3", "C2", time.Minute, nil)
	other := table.Register(ctx, "d4", "C3", time.Minute, nil)

	n := table.FailAllForDevice(ctx, "d3", dispatch.ResolutionDisconnected)
	assert.Equal(t, 2, n)

	assert.Equal(t, dispatch.ResolutionDisconnected, (<-w1.Result()).Reason)
	assert.Equal(t, dispatch.ResolutionDisconnected, (<-w2.Result()).Reason)
	assert.False(t, other.Resolved())
	assert.Equal(t, 1, table.Pending())
}

// TestCancel verifies caller cancellation, and that cancelling an
// already-terminal waiter is a no-op.
func TestCancel(t *testing.T) {
	ctx := context.Background()
	table := newTable(newMockTableMetrics())

	w := table.Register(ctx, "d1", "C1", time.Minute, nil)
	assert.True(t, table.Cancel(ctx, w))
	assert.Equal(t, dispatch.ResolutionCancelled, (<-w.Result()).Reason)
	assert.Equal(t, 0, table.Pending())

	// Cancel after terminal resolution is a no-op.
	w2 := table.Register(ctx, "d1", "C2", time.Minute, nil)
	table.DeliverAck(ctx, commandAck("d1", "C2", dispatch.CommandStatusCompleted, ""))
	assert.False(t, table.Cancel(ctx, w2))
	assert.Equal(t, dispatch.ResolutionAcked, (<-w2.Result()).Reason)
}

// TestShutdown verifies every waiter resolves ServiceShuttingDown and new
// registrations are rejected immediately.
func TestShutdown(t *testing.T) {
	ctx := context.Background()
	table := newTable(newMockTableMetrics())

	w1 := table.Register(ctx, "d1", "C1", time.Minute, nil)
	w2 := table.Register(ctx, "d2", "C2", time.Minute, nil)

	table.Shutdown(ctx)

	assert.Equal(t, dispatch.ResolutionShuttingDown, (<-w1.Result()).Reason)
	assert.Equal(t, dispatch.ResolutionShuttingDown, (<-w2.Result()).Reason)
	assert.Equal(t, 0, table.Pending())

	// Registrations after shutdown resolve immediately.
	w3 := table.Register(ctx, "d3", "C3", time.Minute, nil)
	assert.Equal(t, dispatch.ResolutionShuttingDown, (<-w3.Result()).Reason)
}

// TestExactlyOnceUnderRace drives the full joint event space concurrently
// against a single waiter and asserts the result slot is written exactly
// once.
func TestExactlyOnceUnderRace(t *testing.T) {
	ctx := context.Background()

	for range 50 {
		table := newTable(newMockTableMetrics())
		w := table.Register(ctx, "d1", "C1", time.Millisecond, nil)

		var wg sync.WaitGroup
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				table.DeliverAck(ctx, commandAck("d1", "C1", dispatch.CommandStatusCompleted, ""))
			}()
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			table.FailAllForDevice(ctx, "d1", dispatch.ResolutionDisconnected)
		}()
		go func() {
			defer wg.Done()
			table.Cancel(ctx, w)
		}()
		wg.Wait()

		<-w.Result()
		select {
		case res := <-w.Result():
			t.Fatalf("result slot written twice, second value: %+v", res)
		default:
		}
	}
}
