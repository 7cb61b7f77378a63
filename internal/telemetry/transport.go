// Package telemetry implements the position-reporting protocol: best-effort
// sends with bounded retry over UDP, acknowledgment processing, link-quality
// tracking, and optional escalation to an HTTP fallback channel.
package telemetry

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidemark-data/regatta.report/internal/httputil"
	"github.com/tidemark-data/regatta.report/internal/link"
	"github.com/tidemark-data/regatta.report/internal/monitoring"
	"github.com/tidemark-data/regatta.report/internal/network"
	"github.com/tidemark-data/regatta.report/internal/resolver"
	"github.com/tidemark-data/regatta.report/internal/timeutil"
	"github.com/tidemark-data/regatta.report/internal/wire"
)

const (
	// retryCount bounds transmissions per report.
	retryCount = 3
	// retryDelay separates retry attempts.
	retryDelay = 1500 * time.Millisecond
	// readTimeout bounds each blocking read so the receive loop can check
	// the running flag. A timeout is not an error.
	readTimeout = 2 * time.Second
	// recvBufSize is ample for any acknowledgment datagram.
	recvBufSize = 2048
	// eventBufSize caps the outbound event queue; overflow is dropped.
	eventBufSize = 64
)

// TransportConfig wires a Transport's collaborators.
type TransportConfig struct {
	Socket   network.UDPSocket
	Resolver *resolver.Resolver
	Clock    timeutil.Clock

	// HTTPClient and FallbackURL enable the escalation layer. Leaving
	// HTTPClient nil disables escalation entirely.
	HTTPClient  httputil.HTTPClient
	FallbackURL string

	// Outcome, when set, receives the final fate of every report.
	Outcome func(Outcome)
}

type inflightEntry struct {
	firstSent time.Time
	attempts  int
}

// Transport owns the report sequence and the two concurrent activities of
// the telemetry path: any number of independent send-with-retry loops, and
// one long-lived receive loop.
type Transport struct {
	socket      network.UDPSocket
	resolver    *resolver.Resolver
	clock       timeutil.Clock
	http        httputil.HTTPClient
	fallbackURL string
	outcome     func(Outcome)

	acks    *link.AckSet
	quality *link.Tracker
	esc     *Escalator

	seq     atomic.Uint64
	running atomic.Bool
	stop    chan struct{}

	// lifeMu serializes Send against Stop so the wait group is never
	// grown after Stop has begun waiting.
	lifeMu sync.RWMutex
	wg     sync.WaitGroup

	events chan Event

	mu       sync.Mutex
	inflight map[uint64]*inflightEntry
	lastAck  time.Time
}

// NewTransport assembles a Transport. Call Start before sending.
func NewTransport(cfg TransportConfig) *Transport {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	t := &Transport{
		socket:      cfg.Socket,
		resolver:    cfg.Resolver,
		clock:       clock,
		http:        cfg.HTTPClient,
		fallbackURL: cfg.FallbackURL,
		outcome:     cfg.Outcome,
		acks:        link.NewAckSet(),
		quality:     link.NewTracker(),
		stop:        make(chan struct{}),
		events:      make(chan Event, eventBufSize),
		inflight:    make(map[uint64]*inflightEntry),
	}
	if cfg.HTTPClient != nil {
		t.esc = NewEscalator(clock)
	}
	return t
}

// Start launches the receive loop.
func (t *Transport) Start() {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	t.wg.Add(1)
	go t.recvLoop()
}

// Stop signals every loop to exit, closes the socket so a blocked read
// returns, waits for in-flight sends to wind down, and closes the event
// stream.
func (t *Transport) Stop() {
	t.lifeMu.Lock()
	if !t.running.CompareAndSwap(true, false) {
		t.lifeMu.Unlock()
		return
	}
	close(t.stop)
	t.lifeMu.Unlock()

	if err := t.socket.Close(); err != nil {
		monitoring.Logf("telemetry: socket close: %v", err)
	}
	t.wg.Wait()
	close(t.events)
}

// Events returns the outbound notification stream. It is closed by Stop.
func (t *Transport) Events() <-chan Event { return t.events }

// Quality returns the link-quality tracker.
func (t *Transport) Quality() *link.Tracker { return t.quality }

// Acked reports whether seq has been acknowledged.
func (t *Transport) Acked(seq uint64) bool { return t.acks.Contains(seq) }

// LastAck returns when the most recent acknowledgment arrived.
func (t *Transport) LastAck() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAck, !t.lastAck.IsZero()
}

// Escalated reports whether sends currently route through the fallback.
func (t *Transport) Escalated() bool {
	return t.esc != nil && t.esc.Escalated()
}

// Send assigns the next sequence to the report and dispatches it on its own
// goroutine. Fire and forget: the caller observes outcomes through the
// quality tracker and the event stream.
func (t *Transport) Send(r *wire.Report) {
	t.lifeMu.RLock()
	defer t.lifeMu.RUnlock()
	if !t.running.Load() {
		return
	}
	r.Sequence = t.seq.Add(1)
	t.wg.Add(1)
	go t.sendLoop(r)
}

func (t *Transport) sendLoop(r *wire.Report) {
	defer t.wg.Done()

	addr, ok := t.resolver.Resolve()
	if !ok {
		// No address has ever resolved; skip silently, the next
		// scheduled report retries.
		return
	}
	data, err := wire.EncodeReport(r)
	if err != nil {
		monitoring.Logf("telemetry: %v", err)
		return
	}

	route := RouteDatagram
	if t.esc != nil {
		route = t.esc.Route()
	}

	switch route {
	case RouteFallback:
		t.sendFallback(r.Sequence, data)
	case RouteProbe:
		if !t.datagramCycle(r.Sequence, data, addr) {
			t.finishDatagramFailure(r.Sequence)
			t.sendFallback(r.Sequence, data)
		}
	default:
		if !t.datagramCycle(r.Sequence, data, addr) {
			t.finishDatagramFailure(r.Sequence)
		}
	}
}

// datagramCycle runs the bounded retry loop for one report and reports
// whether the acknowledgment arrived. The AckSet is consulted before every
// attempt, including the first, so an ack that races ahead of a scheduled
// retry stops retransmission immediately.
func (t *Transport) datagramCycle(seq uint64, data []byte, addr *net.UDPAddr) bool {
	for attempt := 1; attempt <= retryCount; attempt++ {
		if !t.running.Load() {
			break
		}
		if t.acks.Contains(seq) {
			return true
		}

		if _, err := t.socket.WriteToUDP(data, addr); err != nil {
			// Log and keep going: the next attempt may succeed.
			monitoring.Logf("telemetry: send seq %d attempt %d: %v", seq, attempt, err)
		}
		t.noteAttempt(seq)

		if attempt < retryCount {
			timer := t.clock.NewTimer(retryDelay)
			select {
			case <-timer.C():
			case <-t.stop:
				timer.Stop()
				return t.acks.Contains(seq)
			}
		}
	}
	return t.acks.Contains(seq)
}

// finishDatagramFailure records the one-and-only failure outcome for a
// report whose retries were exhausted without an ack.
func (t *Transport) finishDatagramFailure(seq uint64) {
	attempts := t.clearInflight(seq)
	t.quality.Record(seq, false)
	if t.esc != nil {
		t.esc.RecordFailure()
	}
	t.emitOutcome(Outcome{
		Seq:       seq,
		Transport: "udp",
		Attempts:  attempts,
		Acked:     false,
		Time:      t.clock.Now(),
	})
}

// sendFallback routes one report through the HTTP channel. The response
// body carries the same acknowledgment schema as a datagram.
func (t *Transport) sendFallback(seq uint64, data []byte) {
	resp, err := t.http.Post(t.fallbackURL, "application/json", bytes.NewReader(data))
	if err != nil {
		monitoring.Logf("telemetry: fallback send seq %d: %v", seq, err)
		t.fallbackFailure(seq)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, recvBufSize))
	if err != nil || resp.StatusCode != http.StatusOK {
		monitoring.Logf("telemetry: fallback send seq %d: status %d, read err %v", seq, resp.StatusCode, err)
		t.fallbackFailure(seq)
		return
	}

	ack, kind := wire.DecodeAck(body)
	if kind == wire.AckGarbage {
		monitoring.Logf("telemetry: fallback response for seq %d unparseable", seq)
		t.fallbackFailure(seq)
		return
	}
	t.processAck(ack, kind, "http")
}

func (t *Transport) fallbackFailure(seq uint64) {
	attempts := t.clearInflight(seq)
	t.quality.Record(seq, false)
	t.emitOutcome(Outcome{
		Seq:       seq,
		Transport: "http",
		Attempts:  attempts + 1,
		Acked:     false,
		Time:      t.clock.Now(),
	})
}

// recvLoop is the single long-lived reader of the inbound channel. Each
// read is bounded so the loop can notice Stop; a timeout is routine.
func (t *Transport) recvLoop() {
	defer t.wg.Done()
	buf := make([]byte, recvBufSize)

	for t.running.Load() {
		if err := t.socket.SetReadDeadline(t.clock.Now().Add(readTimeout)); err != nil {
			monitoring.Logf("telemetry: set read deadline: %v", err)
		}
		n, _, err := t.socket.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !t.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			monitoring.Logf("telemetry: receive: %v", err)
			continue
		}

		ack, kind := wire.DecodeAck(buf[:n])
		if kind == wire.AckGarbage {
			// Malformed inbound datagrams are logged and dropped,
			// never surfaced.
			monitoring.Logf("telemetry: discarding unparseable datagram (%d bytes)", n)
			continue
		}
		t.processAck(ack, kind, "udp")
	}
}

// processAck applies one classified acknowledgment. An error acknowledgment
// must not count as delivery: no AckSet insert, no quality success.
func (t *Transport) processAck(ack *wire.Ack, kind wire.AckKind, via string) {
	now := t.clock.Now()

	if kind == wire.AckError {
		ev := Event{Kind: EventServerError, Seq: ack.Ack, Time: now, Code: ack.Error, Msg: ack.Msg}
		if ack.AuthFailed() {
			ev.Kind = EventAuthError
		}
		t.emitEvent(ev)
		return
	}

	t.acks.Insert(ack.Ack)
	if via == "udp" && t.esc != nil {
		t.esc.RecordSuccess()
	}

	t.mu.Lock()
	t.lastAck = now
	t.mu.Unlock()

	// The quality tracker dedups per sequence, so a late ack after the
	// failure was recorded changes nothing.
	if t.quality.Record(ack.Ack, true) {
		entry := t.takeInflight(ack.Ack)
		o := Outcome{Seq: ack.Ack, Transport: via, Acked: true, Time: now}
		if entry != nil {
			o.Attempts = entry.attempts
			o.RTT = now.Sub(entry.firstSent)
		}
		t.emitOutcome(o)
	}

	t.emitEvent(Event{
		Kind:          EventAcked,
		Seq:           ack.Ack,
		Time:          now,
		EventName:     ack.Event,
		AssistEnabled: ack.AssistEnabled(),
	})
}

func (t *Transport) noteAttempt(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.inflight[seq]
	if e == nil {
		e = &inflightEntry{firstSent: t.clock.Now()}
		t.inflight[seq] = e
	}
	e.attempts++
}

func (t *Transport) takeInflight(seq uint64) *inflightEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.inflight[seq]
	delete(t.inflight, seq)
	return e
}

func (t *Transport) clearInflight(seq uint64) int {
	if e := t.takeInflight(seq); e != nil {
		return e.attempts
	}
	return 0
}

func (t *Transport) emitEvent(ev Event) {
	select {
	case t.events <- ev:
	default:
		monitoring.Logf("telemetry: event queue full, dropping %v for seq %d", ev.Kind, ev.Seq)
	}
}

func (t *Transport) emitOutcome(o Outcome) {
	if t.outcome != nil {
		t.outcome(o)
	}
}
