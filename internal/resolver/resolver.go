// Package resolver caches the destination address for the telemetry channel.
// The target host may be unreachable at the exact moment a lookup is needed,
// so a failed refresh falls back to the last good address instead of blocking
// sends.
package resolver

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tidemark-data/regatta.report/internal/monitoring"
	"github.com/tidemark-data/regatta.report/internal/timeutil"
)

// RefreshInterval is how long a successful resolution stays fresh.
const RefreshInterval = 5 * time.Minute

// LookupFunc resolves a host:port to a UDP address. Production code uses
// net.ResolveUDPAddr; tests inject failures.
type LookupFunc func(hostport string) (*net.UDPAddr, error)

// DefaultLookup resolves via the system resolver.
func DefaultLookup(hostport string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", hostport)
}

// Resolver maintains one cached address for the configured destination.
//
// The refresh policy is deliberately asymmetric: a successful lookup resets
// the freshness timestamp, but a failed refresh returns the stale address
// without touching the timestamp, so the very next call retries instead of
// waiting out another full interval.
type Resolver struct {
	mu         sync.Mutex
	host       string
	port       int
	lookup     LookupFunc
	clock      timeutil.Clock
	cached     *net.UDPAddr
	resolvedAt time.Time
}

// New returns a Resolver for host:port. lookup and clock may be nil, in
// which case the system resolver and real clock are used.
func New(host string, port int, lookup LookupFunc, clock timeutil.Clock) *Resolver {
	if lookup == nil {
		lookup = DefaultLookup
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Resolver{host: host, port: port, lookup: lookup, clock: clock}
}

// Resolve returns the destination address, or ok=false when no address has
// ever been resolved. Callers must skip the send when ok is false; the next
// scheduled report retries naturally.
func (r *Resolver) Resolve() (addr *net.UDPAddr, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.clock.Since(r.resolvedAt) < RefreshInterval {
		return r.cached, true
	}

	fresh, err := r.lookup(net.JoinHostPort(r.host, fmt.Sprintf("%d", r.port)))
	if err != nil {
		if r.cached != nil {
			monitoring.Logf("resolver: lookup of %s failed (%v), using stale address %v", r.host, err, r.cached)
			return r.cached, true
		}
		monitoring.Logf("resolver: lookup of %s failed and no cached address: %v", r.host, err)
		return nil, false
	}

	r.cached = fresh
	r.resolvedAt = r.clock.Now()
	return r.cached, true
}

// SetDestination replaces the destination and invalidates the cache. This is
// the only path that clears a cached address.
func (r *Resolver) SetDestination(host string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if host == r.host && port == r.port {
		return
	}
	r.host = host
	r.port = port
	r.cached = nil
	r.resolvedAt = time.Time{}
}
