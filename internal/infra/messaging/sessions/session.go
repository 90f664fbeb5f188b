package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/pkg/common/timeutil"
)

// Send errors. Both mean the frame was not delivered; the dispatcher reacts
// by detaching the session.
var (
	// ErrSessionClosed is returned when writing to a session that has been
	// replaced, detached, or shut down.
	ErrSessionClosed = errors.New("session closed")
	// ErrSlowConsumer is returned when the session's outbound buffer is
	// full. The dispatcher must never block on a device's writer; a device
	// that cannot drain its buffer is dropped.
	ErrSlowConsumer = errors.New("session outbound buffer full")
)

// DeviceSession is one live attachment of a device to a stream kind. It
// owns the bounded outbound channel the network writer drains; the
// dispatcher is the producer. Closing is idempotent and observed by the
// network writer as end-of-stream.
type DeviceSession struct {
	DeviceID string
	Kind     dispatch.StreamKind

	// ResumeHint is the device-supplied last-received delivery id. The hub
	// stores it for operators; it does not replay.
	ResumeHint string

	mu           sync.Mutex
	out          chan dispatch.Frame
	closed       bool
	connectedAt  time.Time
	lastActivity time.Time

	clock timeutil.Provider
}

func newDeviceSession(deviceID string, kind dispatch.StreamKind, resumeHint string, buffer int, clock timeutil.Provider) *DeviceSession {
	now := clock.Now()
	return &DeviceSession{
		DeviceID:     deviceID,
		Kind:         kind,
		ResumeHint:   resumeHint,
		out:          make(chan dispatch.Frame, buffer),
		connectedAt:  now,
		lastActivity: now,
		clock:        clock,
	}
}

// Send enqueues a frame on the outbound channel without blocking. Returns
// ErrSessionClosed if the session is gone and ErrSlowConsumer if the buffer
// is full.
func (s *DeviceSession) Send(frame dispatch.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	select {
	case s.out <- frame:
		if now := s.clock.Now(); now.After(s.lastActivity) {
			s.lastActivity = now
		}
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Frames returns the outbound channel the network writer consumes. The
// channel is closed when the session ends; buffered frames remain readable.
func (s *DeviceSession) Frames() <-chan dispatch.Frame { return s.out }

// Close ends the session. Idempotent.
func (s *DeviceSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

// Closed reports whether the session has ended.
func (s *DeviceSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ConnectedAt returns when the session was established.
func (s *DeviceSession) ConnectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedAt
}

// LastActivity returns the timestamp of the most recent outbound write or
// inbound acknowledgement.
func (s *DeviceSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// MarkActivity advances the last-activity timestamp. The timestamp never
// moves backward within a session's lifetime.
func (s *DeviceSession) MarkActivity(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.lastActivity) {
		s.lastActivity = t
	}
}
