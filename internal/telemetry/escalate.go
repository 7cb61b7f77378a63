package telemetry

import (
	"sync"
	"time"

	"github.com/tidemark-data/regatta.report/internal/monitoring"
	"github.com/tidemark-data/regatta.report/internal/timeutil"
)

const (
	// escalateThreshold is how many consecutive datagram cycle failures
	// switch sends over to the fallback channel.
	escalateThreshold = 3
	// probeInterval is how often, while escalated, one send is allowed to
	// try the datagram channel again.
	probeInterval = 60 * time.Second
)

// Route tells a send which channel to use for its cycle.
type Route int

const (
	// RouteDatagram sends over UDP as normal.
	RouteDatagram Route = iota
	// RouteFallback sends over the HTTP fallback.
	RouteFallback
	// RouteProbe tries UDP first and falls back to HTTP only if the
	// datagram cycle fails. Issued at most once per probe interval.
	RouteProbe
)

// Escalator tracks consecutive datagram failures and decides, per send,
// whether to use the fallback channel. Recovery is automatic: a datagram
// acknowledgment at any point de-escalates immediately.
type Escalator struct {
	mu          sync.Mutex
	clock       timeutil.Clock
	failures    int
	escalated   bool
	escalatedAt time.Time
	lastProbe   time.Time
}

// NewEscalator returns an Escalator driven by clock.
func NewEscalator(clock timeutil.Clock) *Escalator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Escalator{clock: clock}
}

// Route decides the channel for the next send cycle.
func (e *Escalator) Route() Route {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.escalated {
		return RouteDatagram
	}
	if e.clock.Since(e.lastProbe) >= probeInterval {
		e.lastProbe = e.clock.Now()
		return RouteProbe
	}
	return RouteFallback
}

// RecordFailure notes one exhausted datagram cycle. Crossing the threshold
// escalates.
func (e *Escalator) RecordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	if e.failures >= escalateThreshold && !e.escalated {
		e.escalated = true
		e.escalatedAt = e.clock.Now()
		e.lastProbe = e.escalatedAt
		monitoring.Logf("telemetry: %d consecutive datagram failures, escalating to fallback channel", e.failures)
	}
}

// RecordSuccess notes a datagram acknowledgment: the failure streak resets
// and, if escalated, sends return to the datagram channel.
func (e *Escalator) RecordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
	if e.escalated {
		e.escalated = false
		monitoring.Logf("telemetry: datagram channel recovered, de-escalating")
	}
}

// Escalated reports whether sends are currently routed to the fallback.
func (e *Escalator) Escalated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escalated
}

// EscalatedAt returns when the current escalation began (zero when not
// escalated).
func (e *Escalator) EscalatedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.escalated {
		return time.Time{}
	}
	return e.escalatedAt
}
