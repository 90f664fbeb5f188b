// Package dispatch holds the domain model of the command-and-content
// dispatch engine: outbound frames, acknowledgement statuses and their state
// machines, and the per-device and aggregate results surfaced to
// administrative callers.
package dispatch

// StreamKind identifies which of the two independent device stream
// namespaces a session, frame, or acknowledgement belongs to. Command
// sessions and content sessions for the same device are unrelated.
type StreamKind string

const (
	// StreamKindCommand is the control-command stream.
	StreamKindCommand StreamKind = "command"
	// StreamKindContent is the content-delivery stream.
	StreamKindContent StreamKind = "content"
)

// String returns the string representation of the StreamKind.
func (k StreamKind) String() string { return string(k) }

// Valid reports whether the kind is one of the two known streams.
func (k StreamKind) Valid() bool {
	return k == StreamKindCommand || k == StreamKindContent
}
