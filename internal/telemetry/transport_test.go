package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/tidemark-data/regatta.report/internal/httputil"
	"github.com/tidemark-data/regatta.report/internal/monitoring"
	"github.com/tidemark-data/regatta.report/internal/network"
	"github.com/tidemark-data/regatta.report/internal/resolver"
	"github.com/tidemark-data/regatta.report/internal/timeutil"
	"github.com/tidemark-data/regatta.report/internal/wire"
)

func init() {
	monitoring.SetLogger(nil)
}

func okLookup(hostport string) (*net.UDPAddr, error) {
	return &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 41234}, nil
}

func failLookup(hostport string) (*net.UDPAddr, error) {
	return nil, errors.New("no such host")
}

type harness struct {
	clock  *timeutil.MockClock
	socket *network.MockUDPSocket
	http   *httputil.MockHTTPClient
	tr     *Transport
}

func newHarness(t *testing.T, lookup resolver.LookupFunc, withFallback bool) *harness {
	t.Helper()
	h := &harness{
		clock:  timeutil.NewMockClock(time.Date(2026, 6, 6, 9, 0, 0, 0, time.UTC)),
		socket: network.NewMockUDPSocket(),
	}
	cfg := TransportConfig{
		Socket:   h.socket,
		Resolver: resolver.New("track.example.net", 41234, lookup, h.clock),
		Clock:    h.clock,
	}
	if withFallback {
		h.http = httputil.NewMockHTTPClient()
		cfg.HTTPClient = h.http
		cfg.FallbackURL = "http://track.example.net/api/tracker"
	}
	h.tr = NewTransport(cfg)
	h.tr.Start()
	t.Cleanup(h.tr.Stop)
	return h
}

// waitUntil polls cond in real time, optionally advancing the mock clock by
// step each round so pending retry timers fire.
func (h *harness) waitUntil(t *testing.T, step time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		if step > 0 {
			h.clock.Advance(step)
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func (h *harness) ackFor(seq uint64) []byte {
	return []byte(fmt.Sprintf(`{"ack":%d}`, seq))
}

func TestSendAckedOnFirstAttempt(t *testing.T) {
	h := newHarness(t, okLookup, false)
	h.tr.Send(&wire.Report{ID: "sv-mistral", Role: wire.RoleSailor})

	if !h.waitUntil(t, 0, func() bool { return h.socket.SentCount() == 1 }) {
		t.Fatal("first attempt never transmitted")
	}
	h.socket.Inject(h.ackFor(1))
	if !h.waitUntil(t, 0, func() bool { return h.tr.Acked(1) }) {
		t.Fatal("ack never processed")
	}

	// Once acknowledged, advancing past every retry checkpoint must not
	// produce another datagram for this sequence.
	for i := 0; i < 4; i++ {
		h.clock.Advance(retryDelay)
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.socket.SentCount(); got != 1 {
		t.Errorf("sent %d datagrams after ack, want 1", got)
	}
	if got := h.tr.Quality().Ratio(); got != 1 {
		t.Errorf("quality ratio = %v, want 1", got)
	}

	select {
	case ev := <-h.tr.Events():
		if ev.Kind != EventAcked || ev.Seq != 1 {
			t.Errorf("event = %+v", ev)
		}
		if !ev.AssistEnabled {
			t.Error("absent assist flag should mean enabled")
		}
	case <-time.After(2 * time.Second):
		t.Error("no event emitted for ack")
	}
}

func TestRetriesExhaustedRecordsOneFailure(t *testing.T) {
	h := newHarness(t, okLookup, false)
	h.tr.Send(&wire.Report{ID: "sv-mistral"})

	if !h.waitUntil(t, retryDelay, func() bool { return h.tr.Quality().WindowLen() == 1 }) {
		t.Fatal("failure outcome never recorded")
	}
	if got := h.socket.SentCount(); got != retryCount {
		t.Errorf("transmissions = %d, want %d", got, retryCount)
	}
	if got := h.tr.Quality().Ratio(); got != 0 {
		t.Errorf("quality ratio = %v, want 0", got)
	}

	// A late ack is still absorbed into the AckSet but must not flip the
	// recorded failure.
	h.socket.Inject(h.ackFor(1))
	if !h.waitUntil(t, 0, func() bool { return h.tr.Acked(1) }) {
		t.Fatal("late ack never absorbed")
	}
	if got := h.tr.Quality().Ratio(); got != 0 {
		t.Errorf("late ack changed ratio to %v", got)
	}
	if got := h.tr.Quality().WindowLen(); got != 1 {
		t.Errorf("late ack added a window entry: len %d", got)
	}
}

func TestAckBetweenAttemptsStopsRetransmission(t *testing.T) {
	h := newHarness(t, okLookup, false)
	h.tr.Send(&wire.Report{ID: "sv-mistral"})

	if !h.waitUntil(t, 0, func() bool { return h.socket.SentCount() == 1 }) {
		t.Fatal("first attempt never transmitted")
	}
	h.socket.Inject(h.ackFor(1))
	if !h.waitUntil(t, 0, func() bool { return h.tr.Acked(1) }) {
		t.Fatal("ack never processed")
	}

	h.clock.Advance(retryDelay)
	time.Sleep(10 * time.Millisecond)
	if got := h.socket.SentCount(); got != 1 {
		t.Errorf("retransmitted after ack: %d datagrams", got)
	}
}

func TestSequenceAssignment(t *testing.T) {
	h := newHarness(t, okLookup, false)
	for i := 0; i < 3; i++ {
		h.tr.Send(&wire.Report{ID: "sv-mistral"})
	}
	if !h.waitUntil(t, 0, func() bool { return h.socket.SentCount() == 3 }) {
		t.Fatal("not all reports transmitted")
	}

	seen := map[uint64]bool{}
	for _, d := range h.socket.SentData() {
		var r wire.Report
		if err := json.Unmarshal(d.Data, &r); err != nil {
			t.Fatalf("outbound datagram not a report: %v", err)
		}
		seen[r.Sequence] = true
	}
	for seq := uint64(1); seq <= 3; seq++ {
		if !seen[seq] {
			t.Errorf("sequence %d never transmitted", seq)
		}
	}
}

func TestUnresolvedDestinationSkipsSend(t *testing.T) {
	h := newHarness(t, failLookup, false)
	h.tr.Send(&wire.Report{ID: "sv-mistral"})

	time.Sleep(20 * time.Millisecond)
	if got := h.socket.SentCount(); got != 0 {
		t.Errorf("sent %d datagrams with no resolvable destination", got)
	}
	if got := h.tr.Quality().WindowLen(); got != 0 {
		t.Errorf("resolution failure was recorded as an outcome (window len %d)", got)
	}
}

func TestAuthErrorIsNotSuccess(t *testing.T) {
	h := newHarness(t, okLookup, false)
	h.tr.Send(&wire.Report{ID: "sv-mistral"})

	if !h.waitUntil(t, 0, func() bool { return h.socket.SentCount() == 1 }) {
		t.Fatal("first attempt never transmitted")
	}
	h.socket.Inject([]byte(`{"ack":1,"error":"auth","msg":"bad password"}`))

	var ev Event
	if !h.waitUntil(t, 0, func() bool {
		select {
		case ev = <-h.tr.Events():
			return true
		default:
			return false
		}
	}) {
		t.Fatal("auth error never surfaced")
	}
	if ev.Kind != EventAuthError || ev.Msg != "bad password" {
		t.Errorf("event = %+v", ev)
	}
	if h.tr.Acked(1) {
		t.Error("auth error must not mark the sequence acknowledged")
	}
	if got := h.tr.Quality().Ratio(); got != 0 {
		t.Errorf("auth error counted as quality success: %v", got)
	}
}

func TestGarbageDatagramDiscarded(t *testing.T) {
	h := newHarness(t, okLookup, false)
	h.socket.Inject([]byte("!!not an ack!!"))
	h.socket.Inject([]byte(`{"weird":true}`))

	time.Sleep(20 * time.Millisecond)
	select {
	case ev := <-h.tr.Events():
		t.Errorf("garbage produced event %+v", ev)
	default:
	}
}

func TestTransmissionErrorDoesNotAbortRetryLoop(t *testing.T) {
	h := newHarness(t, okLookup, false)
	h.socket.SetWriteErr(errors.New("network is unreachable"))
	h.tr.Send(&wire.Report{ID: "sv-mistral"})

	if !h.waitUntil(t, retryDelay, func() bool { return h.tr.Quality().WindowLen() == 1 }) {
		t.Fatal("failure never recorded despite write errors")
	}
	if got := h.tr.Quality().Ratio(); got != 0 {
		t.Errorf("ratio = %v", got)
	}
}

func TestStopCancelsOutstandingRetries(t *testing.T) {
	h := newHarness(t, okLookup, false)
	h.tr.Send(&wire.Report{ID: "sv-mistral"})
	if !h.waitUntil(t, 0, func() bool { return h.socket.SentCount() == 1 }) {
		t.Fatal("first attempt never transmitted")
	}

	h.tr.Stop()
	sent := h.socket.SentCount()
	h.clock.Advance(retryDelay)
	time.Sleep(10 * time.Millisecond)
	if got := h.socket.SentCount(); got != sent {
		t.Errorf("retry transmitted after Stop: %d -> %d", sent, got)
	}

	// The event stream closes once everything has wound down.
	if _, open := <-h.tr.Events(); open {
		// Drain anything buffered before the close.
		for range h.tr.Events() {
		}
	}
}

func TestSendAfterStopIsDropped(t *testing.T) {
	h := newHarness(t, okLookup, false)
	h.tr.Stop()
	h.tr.Send(&wire.Report{ID: "sv-mistral"})
	time.Sleep(10 * time.Millisecond)
	if got := h.socket.SentCount(); got != 0 {
		t.Errorf("send after stop transmitted %d datagrams", got)
	}
}

func TestOutcomeHookReceivesFate(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 6, 6, 9, 0, 0, 0, time.UTC))
	socket := network.NewMockUDPSocket()
	outcomes := make(chan Outcome, 8)
	tr := NewTransport(TransportConfig{
		Socket:   socket,
		Resolver: resolver.New("track.example.net", 41234, okLookup, clock),
		Clock:    clock,
		Outcome:  func(o Outcome) { outcomes <- o },
	})
	tr.Start()
	defer tr.Stop()

	tr.Send(&wire.Report{ID: "sv-mistral"})
	deadline := time.Now().Add(2 * time.Second)
	for socket.SentCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	socket.Inject([]byte(`{"ack":1}`))

	select {
	case o := <-outcomes:
		if !o.Acked || o.Seq != 1 || o.Transport != "udp" || o.Attempts != 1 {
			t.Errorf("outcome = %+v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outcome hook never called")
	}
}
