package dispatcher_test

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/pkg/common/uuid"
)

func collect(events <-chan dispatch.Event) []dispatch.Event {
	var out []dispatch.Event
	for evt := range events {
		out = append(out, evt)
	}
	return out
}

// TestStreamEmitsProgressAndTerminal verifies the stream shape: one update
// per non-final ack, then one terminal update, then end-of-stream.
func TestStreamEmitsProgressAndTerminal(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t)
		frames := h.attachContent(t, "d1")

		go func() {
			f := <-frames
			router := h.hub.Router()
			ctx := context.Background()
			router.RouteContentAck(ctx, "d1", f.CorrelationID(), dispatch.ContentStatusReceived, "", nil)
			router.RouteContentAck(ctx, "d1", f.CorrelationID(), dispatch.ContentStatusInProgress, "", &dispatch.ContentProgress{Percent: 50})
			router.RouteContentAck(ctx, "d1", f.CorrelationID(), dispatch.ContentStatusCompleted, "stored", nil)
		}()

		events := h.hub.Content().SendStream(context.Background(), "d1", &dispatch.ContentFrame{DeliveryID: "D1", RequiresAck: true}, 5*time.Second)
		got := collect(events)

		require.Len(t, got, 3)

		first, second, last := got[0].Progress, got[1].Progress, got[2].Progress
		require.NotNil(t, first)
		assert.Equal(t, dispatch.ContentStatusReceived.String(), first.Status)
		assert.False(t, first.Terminal)

		require.NotNil(t, second)
		assert.Equal(t, dispatch.ContentStatusInProgress.String(), second.Status)
		require.NotNil(t, second.Progress)
		assert.Equal(t, float64(50), second.Progress.Percent)

		require.NotNil(t, last)
		assert.True(t, last.Terminal)
		assert.Equal(t, dispatch.OutcomeCompleted, last.Outcome)
		assert.Equal(t, "stored", last.Message)
	})
}

// TestStreamNotConnected verifies the stream emits a single terminal
// failure and ends when the device has no session.
func TestStreamNotConnected(t *testing.T) {
	h := newHarness(t)

	events := h.hub.Commands().SendStream(context.Background(), "ghost", commandFrame("C1"), time.Second)
	got := collect(events)

	require.Len(t, got, 1)
	update := got[0].Progress
	require.NotNil(t, update)
	assert.True(t, update.Terminal)
	assert.Equal(t, dispatch.OutcomeNotConnected, update.Outcome)
	assert.Equal(t, "Device not connected", update.Message)
}

// TestStreamConsumerCancellation verifies that cancelling the consumer
// context before a terminal event cancels the waiter and ends the stream.
func TestStreamConsumerCancellation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t)
		h.attachCommand(t, "d1")

		ctx, cancel := context.WithCancel(context.Background())
		events := h.hub.Commands().SendStream(ctx, "d1", commandFrame("C1"), time.Minute)
		synctest.Wait()

		cancel()
		got := collect(events)

		require.NotEmpty(t, got)
		last := got[len(got)-1].Progress
		require.NotNil(t, last)
		assert.True(t, last.Terminal)
		assert.Equal(t, dispatch.OutcomeCancelled, last.Outcome)
	})
}

// TestGroupStreamZeroDevices verifies the boundary: Started{total=0}
// followed by Complete{0,0}, then end-of-stream.
func TestGroupStreamZeroDevices(t *testing.T) {
	h := newHarness(t)

	events := h.hub.Commands().SendStreamToAll(context.Background(), func(string) dispatch.Frame {
		return commandFrame(uuid.NewString())
	}, time.Second)
	got := collect(events)

	require.Len(t, got, 2)

	require.Equal(t, dispatch.EventTypeStarted, got[0].Type)
	assert.Equal(t, 0, got[0].Started.TotalDevices)
	assert.NotEmpty(t, got[0].Started.DispatchID)

	require.Equal(t, dispatch.EventTypeComplete, got[1].Type)
	assert.Equal(t, 0, got[1].Complete.Successful)
	assert.Equal(t, 0, got[1].Complete.Failed)
}

// TestGroupStreamTagsAndTallies verifies the group stream shape: one
// Started, interleaved per-device updates tagged with the fan-out position,
// and one Complete with the final counts.
func TestGroupStreamTagsAndTallies(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t)

		for _, id := range []string{"d1", "d2"} {
			frames := h.attachCommand(t, id)
			h.autoAckCommands(id, frames, dispatch.CommandStatusCompleted)
		}

		events := h.hub.Commands().SendStreamToAll(context.Background(), func(string) dispatch.Frame {
			return commandFrame(uuid.NewString())
		}, 5*time.Second)
		got := collect(events)

		require.GreaterOrEqual(t, len(got), 4, "started + two terminals + complete")

		assert.Equal(t, dispatch.EventTypeStarted, got[0].Type)
		assert.Equal(t, 2, got[0].Started.TotalDevices)

		last := got[len(got)-1]
		require.Equal(t, dispatch.EventTypeComplete, last.Type)
		assert.Equal(t, 2, last.Complete.Successful)
		assert.Equal(t, 0, last.Complete.Failed)

		terminals := 0
		for _, evt := range got[1 : len(got)-1] {
			require.Equal(t, dispatch.EventTypeProgress, evt.Type)
			assert.Equal(t, 2, evt.Progress.TotalDevices)
			if evt.Progress.Terminal {
				terminals++
				assert.Equal(t, dispatch.OutcomeCompleted, evt.Progress.Outcome)
			}
		}
		assert.Equal(t, 2, terminals)
	})
}

// TestGroupStreamUnknownFleet verifies the streaming fleet variant surfaces
// GroupNotFound synchronously.
func TestGroupStreamUnknownFleet(t *testing.T) {
	h := newHarness(t)

	_, err := h.hub.Commands().SendStreamToFleet(context.Background(), uuid.New(), func(string) dispatch.Frame {
		return commandFrame(uuid.NewString())
	}, time.Second)

	assert.ErrorIs(t, err, dispatch.ErrGroupNotFound)
}
