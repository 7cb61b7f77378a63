package telemetry

import "time"

// EventKind discriminates the variants on the transport's outbound event
// stream.
type EventKind int

const (
	// EventAcked is a normal acknowledgment for a report.
	EventAcked EventKind = iota
	// EventAuthError means the server rejected the shared secret. This is
	// one of the two conditions that require user-visible feedback.
	EventAuthError
	// EventServerError is a non-auth error acknowledgment.
	EventServerError
)

// Event is one notification delivered to the embedding shell. The shell
// consumes these on its own dispatch loop; the core never blocks on a slow
// consumer.
type Event struct {
	Kind EventKind
	Seq  uint64
	Time time.Time

	// EventName is the display name of the event, when the server sent one.
	EventName string
	// AssistEnabled reflects the server's assist setting (absent means
	// enabled). Only meaningful on EventAcked.
	AssistEnabled bool

	// Code and Msg carry the server error on EventAuthError and
	// EventServerError.
	Code string
	Msg  string
}

// Outcome describes the final fate of one report, fed to the optional
// journal hook: either acked (with round trip measured from the first
// transmission) or abandoned after the retry loop was exhausted.
type Outcome struct {
	Seq       uint64
	Transport string // "udp" or "http"
	Attempts  int
	Acked     bool
	RTT       time.Duration
	Time      time.Time
}
