package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
)

// TestCommandStatusTerminality verifies the command state machine's split
// between progress and terminal statuses.
func TestCommandStatusTerminality(t *testing.T) {
	tests := []struct {
		status   dispatch.CommandStatus
		terminal bool
		success  bool
	}{
		{dispatch.CommandStatusUnspecified, false, false},
		{dispatch.CommandStatusReceived, false, false},
		{dispatch.CommandStatusCompleted, true, true},
		{dispatch.CommandStatusFailed, true, false},
		{dispatch.CommandStatusRejected, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.success, tt.status.Success())
		})
	}
}

// TestContentStatusTerminality verifies that only Completed counts as
// success; Partial and Failed are terminal failures.
func TestContentStatusTerminality(t *testing.T) {
	tests := []struct {
		status   dispatch.ContentStatus
		terminal bool
		success  bool
	}{
		{dispatch.ContentStatusUnspecified, false, false},
		{dispatch.ContentStatusReceived, false, false},
		{dispatch.ContentStatusInProgress, false, false},
		{dispatch.ContentStatusCompleted, true, true},
		{dispatch.ContentStatusPartial, true, false},
		{dispatch.ContentStatusFailed, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.success, tt.status.Success())
		})
	}
}

// TestParseStatusRoundTrip checks that parsing the wire name of each status
// returns the same status, and unknown strings map to Unspecified.
func TestParseStatusRoundTrip(t *testing.T) {
	for _, s := range []dispatch.CommandStatus{
		dispatch.CommandStatusReceived,
		dispatch.CommandStatusCompleted,
		dispatch.CommandStatusFailed,
		dispatch.CommandStatusRejected,
	} {
		assert.Equal(t, s, dispatch.ParseCommandStatus(s.String()))
	}
	assert.Equal(t, dispatch.CommandStatusUnspecified, dispatch.ParseCommandStatus("bogus"))

	for _, s := range []dispatch.ContentStatus{
		dispatch.ContentStatusReceived,
		dispatch.ContentStatusInProgress,
		dispatch.ContentStatusCompleted,
		dispatch.ContentStatusPartial,
		dispatch.ContentStatusFailed,
	} {
		assert.Equal(t, s, dispatch.ParseContentStatus(s.String()))
	}
	assert.Equal(t, dispatch.ContentStatusUnspecified, dispatch.ParseContentStatus("bogus"))
}

// TestResolutionOutcomeMapping verifies the mapping from waiter resolutions
// to per-device outcomes, including the Rejected special case for commands.
func TestResolutionOutcomeMapping(t *testing.T) {
	ackWith := func(status dispatch.AckStatus) dispatch.Resolution {
		return dispatch.Resolution{
			Reason: dispatch.ResolutionAcked,
			Ack:    &dispatch.Ack{Status: status},
		}
	}

	assert.Equal(t, dispatch.OutcomeCompleted, ackWith(dispatch.CommandStatusCompleted).Outcome())
	assert.Equal(t, dispatch.OutcomeFailed, ackWith(dispatch.CommandStatusFailed).Outcome())
	assert.Equal(t, dispatch.OutcomeRejected, ackWith(dispatch.CommandStatusRejected).Outcome())
	assert.Equal(t, dispatch.OutcomeCompleted, ackWith(dispatch.ContentStatusCompleted).Outcome())
	assert.Equal(t, dispatch.OutcomeFailed, ackWith(dispatch.ContentStatusPartial).Outcome())
	assert.Equal(t, dispatch.OutcomeFailed, ackWith(dispatch.ContentStatusFailed).Outcome())

	assert.Equal(t, dispatch.OutcomeTimeout, dispatch.Resolution{Reason: dispatch.ResolutionTimeout}.Outcome())
	assert.Equal(t, dispatch.OutcomeDisconnected, dispatch.Resolution{Reason: dispatch.ResolutionDisconnected}.Outcome())
	assert.Equal(t, dispatch.OutcomeCancelled, dispatch.Resolution{Reason: dispatch.ResolutionCancelled}.Outcome())
	assert.Equal(t, dispatch.OutcomeShuttingDown, dispatch.Resolution{Reason: dispatch.ResolutionShuttingDown}.Outcome())
}

// TestGroupResultTally verifies aggregate counting, including the timed-out
// subset of failures.
func TestGroupResultTally(t *testing.T) {
	g := dispatch.GroupResult{
		TargetDevices: 3,
		Results: []dispatch.DispatchResult{
			{DeviceID: "d4", Outcome: dispatch.OutcomeCompleted},
			{DeviceID: "d5", Outcome: dispatch.OutcomeFailed, Message: "invalid-orientation"},
			{DeviceID: "d6", Outcome: dispatch.OutcomeTimeout},
		},
	}
	g.Tally()

	assert.Equal(t, 1, g.Successful)
	assert.Equal(t, 2, g.Failed)
	assert.Equal(t, 1, g.TimedOut)
	assert.ElementsMatch(t, []string{"d5", "d6"}, g.FailedDevices())
}
