package dispatch

// AckStatus is implemented by the per-stream acknowledgement status enums.
// The pending-ack table only needs to know whether a status terminates the
// exchange and, if so, whether it counts as success.
type AckStatus interface {
	// Terminal reports whether no further acknowledgements are accepted
	// after this status.
	Terminal() bool
	// Success reports whether a terminal status completes the dispatch
	// successfully. Always false for non-terminal statuses.
	Success() bool
	// String returns the wire-level name of the status.
	String() string
}

// CommandStatus represents the acknowledgement states a device reports for
// a command frame.
type CommandStatus string

const (
	CommandStatusUnspecified CommandStatus = "UNSPECIFIED"
	CommandStatusReceived    CommandStatus = "RECEIVED"
	CommandStatusCompleted   CommandStatus = "COMPLETED"
	CommandStatusFailed      CommandStatus = "FAILED"
	CommandStatusRejected    CommandStatus = "REJECTED"
)

// String returns the string representation of the CommandStatus.
func (s CommandStatus) String() string { return string(s) }

// Terminal reports whether the status ends the acknowledgement exchange.
// Only Completed, Failed, and Rejected are terminal; Received is a progress
// report and Unspecified carries no information.
func (s CommandStatus) Terminal() bool {
	switch s {
	case CommandStatusCompleted, CommandStatusFailed, CommandStatusRejected:
		return true
	default:
		return false
	}
}

// Success reports whether a terminal status completes the dispatch
// successfully.
func (s CommandStatus) Success() bool { return s == CommandStatusCompleted }

// Known reports whether the status is one of the defined command statuses.
func (s CommandStatus) Known() bool {
	switch s {
	case CommandStatusUnspecified, CommandStatusReceived,
		CommandStatusCompleted, CommandStatusFailed, CommandStatusRejected:
		return true
	default:
		return false
	}
}

// ParseCommandStatus converts a wire string to a CommandStatus. Unknown
// values map to Unspecified.
func ParseCommandStatus(s string) CommandStatus {
	switch s {
	case "RECEIVED":
		return CommandStatusReceived
	case "COMPLETED":
		return CommandStatusCompleted
	case "FAILED":
		return CommandStatusFailed
	case "REJECTED":
		return CommandStatusRejected
	default:
		return CommandStatusUnspecified
	}
}

// ContentStatus represents the acknowledgement states a device reports for
// a content delivery.
type ContentStatus string

const (
	ContentStatusUnspecified ContentStatus = "UNSPECIFIED"
	ContentStatusReceived    ContentStatus = "RECEIVED"
	ContentStatusInProgress  ContentStatus = "IN_PROGRESS"
	ContentStatusCompleted   ContentStatus = "COMPLETED"
	ContentStatusPartial     ContentStatus = "PARTIAL"
	ContentStatusFailed      ContentStatus = "FAILED"
)

// String returns the string representation of the ContentStatus.
func (s ContentStatus) String() string { return string(s) }

// Terminal reports whether the status ends the acknowledgement exchange.
// Completed, Partial, and Failed are terminal; Received and InProgress are
// progress reports.
func (s ContentStatus) Terminal() bool {
	switch s {
	case ContentStatusCompleted, ContentStatusPartial, ContentStatusFailed:
		return true
	default:
		return false
	}
}

// Success reports whether a terminal status completes the delivery
// successfully. Partial deliveries are failures: some media did not land.
func (s ContentStatus) Success() bool { return s == ContentStatusCompleted }

// Known reports whether the status is one of the defined content statuses.
func (s ContentStatus) Known() bool {
	switch s {
	case ContentStatusUnspecified, ContentStatusReceived, ContentStatusInProgress,
		ContentStatusCompleted, ContentStatusPartial, ContentStatusFailed:
		return true
	default:
		return false
	}
}

// ParseContentStatus converts a wire string to a ContentStatus. Unknown
// values map to Unspecified.
func ParseContentStatus(s string) ContentStatus {
	switch s {
	case "RECEIVED":
		return ContentStatusReceived
	case "IN_PROGRESS":
		return ContentStatusInProgress
	case "COMPLETED":
		return ContentStatusCompleted
	case "PARTIAL":
		return ContentStatusPartial
	case "FAILED":
		return ContentStatusFailed
	default:
		return ContentStatusUnspecified
	}
}
