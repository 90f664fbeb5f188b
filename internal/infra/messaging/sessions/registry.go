// Package sessions owns the live device sessions for one stream kind. The
// registry enforces at most one session per device id with last-writer-wins
// replacement: devices lose connectivity and reconnect without cleanly
// closing the old stream, and the hub must never push into a silently-dead
// session.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/pkg/common/logger"
	"github.com/edgesignal/fleethub/pkg/common/timeutil"
)

// DefaultOutboundBuffer is the per-session outbound frame buffer used when
// the registry is constructed with a non-positive buffer size.
const DefaultOutboundBuffer = 32

// RegistryMetrics defines the metrics collected by the session registry.
type RegistryMetrics interface {
	IncConnectedDevices(ctx context.Context, kind string)
	DecConnectedDevices(ctx context.Context, kind string)
	SetConnectedDevices(ctx context.Context, kind string, count int)
	IncSessionReplacements(ctx context.Context, kind string)
}

// WaiterFailer resolves every pending waiter for a device when its session
// goes away. Implemented by the pending-ack table.
type WaiterFailer interface {
	FailAllForDevice(ctx context.Context, deviceID string, reason dispatch.ResolutionReason) int
}

// Info is one row of a registry snapshot.
type Info struct {
	DeviceID     string    `json:"device_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Registry holds the live sessions for one stream kind.
type Registry struct {
	kind    dispatch.StreamKind
	buffer  int
	waiters WaiterFailer

	mu       sync.RWMutex
	sessions map[string]*DeviceSession

	clock   timeutil.Provider
	logger  *logger.Logger
	metrics RegistryMetrics
}

// NewRegistry creates a registry for the given stream kind. The waiter
// failer is invoked whenever a session is replaced or detached so no waiter
// outlives its session.
func NewRegistry(
	kind dispatch.StreamKind,
	buffer int,
	waiters WaiterFailer,
	clock timeutil.Provider,
	log *logger.Logger,
	metrics RegistryMetrics,
) *Registry {
	if buffer <= 0 {
		buffer = DefaultOutboundBuffer
	}
	return &Registry{
		kind:     kind,
		buffer:   buffer,
		waiters:  waiters,
		sessions: make(map[string]*DeviceSession),
		clock:    clock,
		logger:   log.With("component", "session_registry", "stream_kind", kind.String()),
		metrics:  metrics,
	}
}

// Kind returns the stream kind this registry owns.
func (r *Registry) Kind() dispatch.StreamKind { return r.kind }

// Attach creates a session for the device, replacing any existing one. The
// replaced session is closed and its pending waiters resolve Disconnected
// immediately rather than at their original timeouts.
func (r *Registry) Attach(ctx context.Context, deviceID, resumeHint string) (*DeviceSession, error) {
	if deviceID == "" {
		return nil, dispatch.ErrEmptyDeviceID
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("device_id", deviceID))

	s := newDeviceSession(deviceID, r.kind, resumeHint, r.buffer, r.clock)

	r.mu.Lock()
	old := r.sessions[deviceID]
	r.sessions[deviceID] = s
	count := len(r.sessions)
	r.mu.Unlock()

	if old != nil {
		span.AddEvent("session_replaced")
		old.Close()
		failed := r.waiters.FailAllForDevice(ctx, deviceID, dispatch.ResolutionDisconnected)
		r.metrics.IncSessionReplacements(ctx, r.kind.String())
		r.logger.Info(ctx, "Session replaced by reconnect",
			"device_id", deviceID,
			"failed_waiters", failed,
		)
	} else {
		r.metrics.IncConnectedDevices(ctx, r.kind.String())
		r.logger.Info(ctx, "Session attached", "device_id", deviceID)
	}
	r.metrics.SetConnectedDevices(ctx, r.kind.String(), count)

	return s, nil
}

// Detach removes the device's session if it is still the given one, closes
// it, and resolves its waiters Disconnected. A nil session detaches
// whatever session is current. Returns false if nothing was removed, which
// happens when the session was already replaced by a newer attach.
func (r *Registry) Detach(ctx context.Context, deviceID string, s *DeviceSession) bool {
	r.mu.Lock()
	cur, ok := r.sessions[deviceID]
	if !ok || (s != nil && cur != s) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, deviceID)
	count := len(r.sessions)
	r.mu.Unlock()

	cur.Close()
	failed := r.waiters.FailAllForDevice(ctx, deviceID, dispatch.ResolutionDisconnected)

	r.metrics.DecConnectedDevices(ctx, r.kind.String())
	r.metrics.SetConnectedDevices(ctx, r.kind.String(), count)
	r.logger.Info(ctx, "Session detached",
		"device_id", deviceID,
		"failed_waiters", failed,
	)

	return true
}

// Get returns the live session for the device, if any.
func (r *Registry) Get(deviceID string) (*DeviceSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[deviceID]
	return s, ok
}

// Snapshot returns connection info for every live session, sorted by
// device id for stable output.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{
			DeviceID:     s.DeviceID,
			ConnectedAt:  s.ConnectedAt(),
			LastActivity: s.LastActivity(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// DeviceIDs returns the ids of all connected devices.
func (r *Registry) DeviceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// MarkActivity bumps the device's last-activity timestamp. Called on every
// inbound acknowledgement.
func (r *Registry) MarkActivity(deviceID string) {
	r.mu.RLock()
	s, ok := r.sessions[deviceID]
	r.mu.RUnlock()

	if ok {
		s.MarkActivity(r.clock.Now())
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every session. Used during hub shutdown, after the
// pending-ack table has already resolved all waiters.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*DeviceSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	r.metrics.SetConnectedDevices(ctx, r.kind.String(), 0)

	if len(sessions) > 0 {
		r.logger.Info(ctx, "Closed all sessions", "count", len(sessions))
	}
}
