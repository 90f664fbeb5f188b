package dispatcher

import (
	"context"
	"sync"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
)

// defaultStreamBuffer is the event buffer of one dispatch stream. Progress
// events beyond a stalled consumer's buffer are dropped; terminal and meta
// events are never dropped.
const defaultStreamBuffer = 64

// eventStream is the typed channel a streaming dispatch is consumed
// through. Producers are the dispatcher's progress sinks and completion
// paths; the single consumer is the ingress streaming handler.
type eventStream struct {
	ch chan dispatch.Event

	mu     sync.Mutex
	closed bool
}

func newEventStream(buffer int) *eventStream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	return &eventStream{ch: make(chan dispatch.Event, buffer)}
}

// Events returns the consumer side of the stream.
func (s *eventStream) Events() <-chan dispatch.Event { return s.ch }

// TryEmit enqueues an event without blocking. Returns false if the stream
// is closed or the consumer's buffer is full; progress updates are
// best-effort and must never stall the inbound ack path.
func (s *eventStream) TryEmit(evt dispatch.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// Emit enqueues an event, waiting for buffer space until the context is
// cancelled. Used for meta and terminal events, which must not be dropped
// while the consumer is alive.
func (s *eventStream) Emit(ctx context.Context, evt dispatch.Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	// Fast path while holding the lock keeps Emit ordered with Close.
	select {
	case s.ch <- evt:
		s.mu.Unlock()
		return true
	default:
	}
	s.mu.Unlock()

	select {
	case s.ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream. Idempotent. Callers must not Close while an Emit
// is still in flight; the dispatcher closes a stream only after every
// producer goroutine has returned.
func (s *eventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
