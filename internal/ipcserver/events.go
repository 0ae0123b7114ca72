// Package ipcserver implements the Handler Server: a single-threaded
// cooperative event loop that accepts client registrations and crash
// notifications over a pluggable transport and orchestrates capture.
package ipcserver

// EventType distinguishes the four kinds of event the server dispatches.
type EventType int

const (
	EventClientRegistered EventType = iota
	EventExceptionRaised
	EventShutdownRequested
	EventTerminated
)

func (t EventType) String() string {
	switch t {
	case EventClientRegistered:
		return "client_registered"
	case EventExceptionRaised:
		return "exception_raised"
	case EventShutdownRequested:
		return "shutdown_requested"
	case EventTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Event is one unit of work dequeued by the server's event loop. Only the
// fields relevant to Type are populated.
type Event struct {
	Type EventType

	ClientProcessID         uint32
	ExceptionInfoAddress    uint64
	SanitizationInfoAddress uint64

	ThreadID     uint32
	StackPointer uint64

	ShutdownToken uint64

	conn Conn
}
