// Package acktracking implements the pending-ack table: one waiter per
// outstanding ack-required dispatch, keyed by device id and correlation id.
// The table routes inbound acknowledgements to waiters, enforces per-waiter
// timeouts, and guarantees every waiter's final result is written exactly
// once across the joint event space of terminal ack, timeout, disconnect,
// cancellation, and shutdown.
package acktracking

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/pkg/common/logger"
)

// ProgressFunc receives non-terminal acknowledgements for a waiter. It is
// never invoked after the waiter's final result is written.
type ProgressFunc func(ack dispatch.Ack)

// TableMetrics defines the metrics collected by the pending-ack table.
type TableMetrics interface {
	IncWaitersRegistered(ctx context.Context)
	IncWaitersResolved(ctx context.Context, reason string)
	IncAcksDropped(ctx context.Context)
	SetPendingWaiters(ctx context.Context, count int)
}

// Waiter is the in-memory record of one in-flight ack-required dispatch.
// Its result slot is written exactly once; Result yields that value.
type Waiter struct {
	deviceID      string
	correlationID string

	done     chan dispatch.Resolution
	progress ProgressFunc
	timer    *time.Timer

	// progMu serializes progress emission against the final-result write so
	// no progress update can be observed after the waiter resolves.
	progMu   sync.Mutex
	resolved atomic.Bool
	once     sync.Once
}

// DeviceID returns the target device of the dispatch.
func (w *Waiter) DeviceID() string { return w.deviceID }

// CorrelationID returns the dispatch's correlation id.
func (w *Waiter) CorrelationID() string { return w.correlationID }

// Result returns the channel carrying the waiter's final resolution. The
// channel receives exactly one value.
func (w *Waiter) Result() <-chan dispatch.Resolution { return w.done }

// Resolved reports whether the final result slot has been written.
func (w *Waiter) Resolved() bool { return w.resolved.Load() }

// resolve writes the final result slot. Returns true for the single caller
// that wins; every other resolution attempt is a no-op.
func (w *Waiter) resolve(r dispatch.Resolution) bool {
	won := false
	w.once.Do(func() {
		w.progMu.Lock()
		w.resolved.Store(true)
		w.progMu.Unlock()

		if w.timer != nil {
			w.timer.Stop()
		}
		w.done <- r
		won = true
	})
	return won
}

// emitProgress forwards a non-terminal ack to the progress sink unless the
// waiter has already resolved.
func (w *Waiter) emitProgress(ack dispatch.Ack) {
	if w.progress == nil {
		return
	}

	w.progMu.Lock()
	defer w.progMu.Unlock()
	if !w.resolved.Load() {
		w.progress(ack)
	}
}

// Table holds the pending waiters for one stream kind.
type Table struct {
	mu           sync.Mutex
	waiters      map[string]map[string]*Waiter // device id -> correlation id -> waiter
	pending      int
	shuttingDown bool

	logger  *logger.Logger
	metrics TableMetrics
}

// NewTable creates an empty pending-ack table.
func NewTable(log *logger.Logger, metrics TableMetrics) *Table {
	return &Table{
		waiters: make(map[string]map[string]*Waiter),
		logger:  log.With("component", "pending_ack_table"),
		metrics: metrics,
	}
}

// Register inserts a waiter for the given dispatch and starts its timeout
// clock. If a waiter for the same (device, correlation id) already exists,
// the new registration replaces it and the old waiter resolves Cancelled:
// collisions indicate a misbehaving caller, and the newer intent wins.
//
// The returned waiter is already resolved ServiceShuttingDown if the table
// has been shut down.
func (t *Table) Register(
	ctx context.Context,
	deviceID, correlationID string,
	timeout time.Duration,
	progress ProgressFunc,
) *Waiter {
	w := &Waiter{
		deviceID:      deviceID,
		correlationID: correlationID,
		done:          make(chan dispatch.Resolution, 1),
		progress:      progress,
	}

	t.mu.Lock()
	if t.shuttingDown {
		t.mu.Unlock()
		w.resolve(dispatch.Resolution{Reason: dispatch.ResolutionShuttingDown})
		return w
	}

	byCorr, ok := t.waiters[deviceID]
	if !ok {
		byCorr = make(map[string]*Waiter)
		t.waiters[deviceID] = byCorr
	}
	old := byCorr[correlationID]
	byCorr[correlationID] = w
	if old == nil {
		t.pending++
	}
	pending := t.pending

	// The timer is armed while the table lock is held so that a zero or
	// tiny timeout cannot fire before the waiter is visible: the callback
	// blocks on the same lock until registration completes.
	w.timer = time.AfterFunc(timeout, func() { t.expire(deviceID, correlationID, w) })
	t.mu.Unlock()

	if old != nil {
		old.resolve(dispatch.Resolution{Reason: dispatch.ResolutionCancelled})
		t.metrics.IncWaitersResolved(ctx, string(dispatch.ResolutionCancelled))
		t.logger.Warn(ctx, "Replaced waiter with duplicate correlation id",
			"device_id", deviceID,
			"correlation_id", correlationID,
		)
	}

	t.metrics.IncWaitersRegistered(ctx)
	t.metrics.SetPendingWaiters(ctx, pending)

	return w
}

// expire is the timeout callback for one waiter.
func (t *Table) expire(deviceID, correlationID string, w *Waiter) {
	t.removeIfCurrent(deviceID, correlationID, w)

	if w.resolve(dispatch.Resolution{Reason: dispatch.ResolutionTimeout}) {
		ctx := context.Background()
		t.metrics.IncWaitersResolved(ctx, string(dispatch.ResolutionTimeout))
		t.logger.Warn(ctx, "Dispatch timed out waiting for acknowledgement",
			"device_id", deviceID,
			"correlation_id", correlationID,
		)
	}
}

// DeliverAck routes one inbound acknowledgement. Non-terminal statuses are
// forwarded to the waiter's progress sink without completing it; terminal
// statuses write the final result slot and remove the waiter. Acks without
// a matching waiter are logged and dropped: stale and duplicate acks are
// non-fatal.
func (t *Table) DeliverAck(ctx context.Context, ack dispatch.Ack) bool {
	t.mu.Lock()
	w := t.waiters[ack.DeviceID][ack.CorrelationID]
	if w == nil {
		t.mu.Unlock()
		t.metrics.IncAcksDropped(ctx)
		t.logger.Debug(ctx, "Dropping ack with no pending waiter",
			"device_id", ack.DeviceID,
			"correlation_id", ack.CorrelationID,
			"status", statusName(ack.Status),
		)
		return false
	}

	if !ack.Terminal() {
		t.mu.Unlock()
		w.emitProgress(ack)
		return true
	}

	t.deleteLocked(ack.DeviceID, ack.CorrelationID)
	pending := t.pending
	t.mu.Unlock()

	final := ack
	if !w.resolve(dispatch.Resolution{Reason: dispatch.ResolutionAcked, Ack: &final}) {
		t.metrics.IncAcksDropped(ctx)
		return false
	}

	t.metrics.IncWaitersResolved(ctx, string(dispatch.ResolutionAcked))
	t.metrics.SetPendingWaiters(ctx, pending)
	return true
}

// Cancel resolves the waiter Cancelled and removes it if it is still the
// registered one. Used when the administrative caller abandons the call or
// a streaming consumer goes away. A simultaneous ack completion wins;
// removal is idempotent.
func (t *Table) Cancel(ctx context.Context, w *Waiter) bool {
	return t.Fail(ctx, w, dispatch.ResolutionCancelled)
}

// Fail resolves a single waiter with the given reason and removes it if it
// is still the registered one. A simultaneous resolution from another event
// wins and Fail reports false.
func (t *Table) Fail(ctx context.Context, w *Waiter, reason dispatch.ResolutionReason) bool {
	t.removeIfCurrent(w.deviceID, w.correlationID, w)

	if !w.resolve(dispatch.Resolution{Reason: reason}) {
		return false
	}
	t.metrics.IncWaitersResolved(ctx, string(reason))
	return true
}

// FailAllForDevice resolves every waiter for the device with the given
// reason. Invoked by the session registry on detach and replacement.
// Returns the number of waiters resolved.
func (t *Table) FailAllForDevice(ctx context.Context, deviceID string, reason dispatch.ResolutionReason) int {
	t.mu.Lock()
	byCorr := t.waiters[deviceID]
	delete(t.waiters, deviceID)
	t.pending -= len(byCorr)
	pending := t.pending
	t.mu.Unlock()

	resolved := 0
	for _, w := range byCorr {
		if w.resolve(dispatch.Resolution{Reason: reason}) {
			resolved++
			t.metrics.IncWaitersResolved(ctx, string(reason))
		}
	}

	if len(byCorr) > 0 {
		t.metrics.SetPendingWaiters(ctx, pending)
	}
	return resolved
}

// Shutdown resolves every pending waiter ServiceShuttingDown and rejects
// all future registrations.
func (t *Table) Shutdown(ctx context.Context) {
	t.mu.Lock()
	t.shuttingDown = true
	all := t.waiters
	t.waiters = make(map[string]map[string]*Waiter)
	count := t.pending
	t.pending = 0
	t.mu.Unlock()

	for _, byCorr := range all {
		for _, w := range byCorr {
			if w.resolve(dispatch.Resolution{Reason: dispatch.ResolutionShuttingDown}) {
				t.metrics.IncWaitersResolved(ctx, string(dispatch.ResolutionShuttingDown))
			}
		}
	}
	t.metrics.SetPendingWaiters(ctx, 0)

	if count > 0 {
		t.logger.Info(ctx, "Resolved pending waiters on shutdown", "count", count)
	}
}

// Pending returns the number of outstanding waiters.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// removeIfCurrent deletes the (device, correlation) entry only if it still
// maps to w, so a stale timeout or cancel never removes a replacement
// waiter.
func (t *Table) removeIfCurrent(deviceID, correlationID string, w *Waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur := t.waiters[deviceID][correlationID]; cur == w {
		t.deleteLocked(deviceID, correlationID)
	}
}

func (t *Table) deleteLocked(deviceID, correlationID string) {
	byCorr := t.waiters[deviceID]
	if _, ok := byCorr[correlationID]; !ok {
		return
	}
	delete(byCorr, correlationID)
	if len(byCorr) == 0 {
		delete(t.waiters, deviceID)
	}
	t.pending--
}

func statusName(s dispatch.AckStatus) string {
	if s == nil {
		return ""
	}
	return s.String()
}
