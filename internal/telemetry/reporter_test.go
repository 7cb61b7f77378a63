package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tidemark-data/regatta.report/internal/wire"
)

func sentReports(t *testing.T, h *harness) []wire.Report {
	t.Helper()
	var out []wire.Report
	for _, d := range h.socket.SentData() {
		var r wire.Report
		if err := json.Unmarshal(d.Data, &r); err != nil {
			t.Fatalf("outbound datagram not a report: %v", err)
		}
		out = append(out, r)
	}
	return out
}

func newReporter(t *testing.T, h *harness, cfg Config) *Reporter {
	t.Helper()
	return NewReporter(h.tr, cfg, h.clock)
}

func TestReporterSingleMode(t *testing.T) {
	h := newHarness(t, okLookup, false)
	rep := newReporter(t, h, Config{DeviceID: "sv-mistral", EventID: 7, Role: wire.RoleSailor, Version: "2.3.1", OS: "linux"})
	rep.UpdateStatus(Status{Battery: 88, Signal: 4, Assist: true})

	spd := 6.2
	hdg := 145
	rep.Offer(Sample{Time: h.clock.Now(), Lat: 59.32, Lon: 18.07, Speed: &spd, Heading: &hdg})

	if !h.waitUntil(t, 0, func() bool { return h.socket.SentCount() == 1 }) {
		t.Fatal("report never transmitted")
	}
	r := sentReports(t, h)[0]
	if r.ID != "sv-mistral" || r.EventID != 7 || r.Role != wire.RoleSailor {
		t.Errorf("report envelope = %+v", r)
	}
	if r.Lat == nil || *r.Lat != 59.32 || r.Heading == nil || *r.Heading != 145 {
		t.Errorf("report position = %+v", r)
	}
	if r.Battery != 88 || !r.Assist {
		t.Errorf("report status = %+v", r)
	}
	if r.Batched() {
		t.Error("single-mode report carried a position array")
	}
	if r.DrainRate != nil {
		t.Error("drain rate reported before five minutes of session")
	}
}

func TestReporterCadenceGating(t *testing.T) {
	h := newHarness(t, okLookup, false)
	rep := newReporter(t, h, Config{DeviceID: "sv-mistral"})

	rep.Offer(Sample{Time: h.clock.Now(), Lat: 1, Lon: 1})
	// Within the 10 s normal cadence: dropped.
	h.clock.Set(h.clock.Now().Add(3 * time.Second))
	rep.Offer(Sample{Time: h.clock.Now(), Lat: 2, Lon: 2})
	h.clock.Set(h.clock.Now().Add(7 * time.Second))
	rep.Offer(Sample{Time: h.clock.Now(), Lat: 3, Lon: 3})

	if !h.waitUntil(t, 0, func() bool { return h.socket.SentCount() == 2 }) {
		t.Fatalf("sent %d reports, want 2", h.socket.SentCount())
	}
}

func TestReporterBatchMode(t *testing.T) {
	h := newHarness(t, okLookup, false)
	rep := newReporter(t, h, Config{DeviceID: "w-gull", HighFrequency: true})

	for i := 0; i < batchSize; i++ {
		rep.Offer(Sample{Time: h.clock.Now(), Lat: 59.0 + float64(i)*0.001, Lon: 18.0})
		h.clock.Set(h.clock.Now().Add(time.Second))
	}

	if !h.waitUntil(t, 0, func() bool { return h.socket.SentCount() == 1 }) {
		t.Fatal("batched report never transmitted")
	}
	r := sentReports(t, h)[0]
	if !r.Batched() || len(r.Positions) != batchSize {
		t.Errorf("batched report has %d positions, want %d", len(r.Positions), batchSize)
	}
	if r.Lat != nil || r.Lon != nil {
		t.Error("batched report also carried a single position")
	}
	if rep.Buffered() != 0 {
		t.Errorf("buffer not cleared after flush: %d", rep.Buffered())
	}
}

func TestReporterModeToggleClearsBuffer(t *testing.T) {
	h := newHarness(t, okLookup, false)
	rep := newReporter(t, h, Config{DeviceID: "w-gull", HighFrequency: true})

	for i := 0; i < 4; i++ {
		rep.Offer(Sample{Time: h.clock.Now(), Lat: 59, Lon: 18})
		h.clock.Set(h.clock.Now().Add(time.Second))
	}
	if rep.Buffered() != 4 {
		t.Fatalf("buffered = %d, want 4", rep.Buffered())
	}

	cfg := rep.Config()
	cfg.HighFrequency = false
	rep.SetConfig(cfg)
	if rep.Buffered() != 0 {
		t.Errorf("buffer survived mode toggle: %d fixes", rep.Buffered())
	}
}

func TestReporterFlushSendsPartialBatch(t *testing.T) {
	h := newHarness(t, okLookup, false)
	rep := newReporter(t, h, Config{DeviceID: "w-gull", HighFrequency: true})

	for i := 0; i < 3; i++ {
		rep.Offer(Sample{Time: h.clock.Now(), Lat: 59, Lon: 18})
		h.clock.Set(h.clock.Now().Add(time.Second))
	}
	rep.Flush()

	if !h.waitUntil(t, 0, func() bool { return h.socket.SentCount() == 1 }) {
		t.Fatal("flush never transmitted")
	}
	r := sentReports(t, h)[0]
	if len(r.Positions) != 3 {
		t.Errorf("flushed %d positions, want 3", len(r.Positions))
	}
}

func TestReporterDrainRate(t *testing.T) {
	h := newHarness(t, okLookup, false)
	rep := newReporter(t, h, Config{DeviceID: "sv-mistral"})
	rep.UpdateStatus(Status{Battery: 100})

	if got := rep.drainRate(h.clock.Now()); got != nil {
		t.Errorf("drain rate before five minutes = %v", *got)
	}

	h.clock.Set(h.clock.Now().Add(30 * time.Minute))
	rep.UpdateStatus(Status{Battery: 95})
	got := rep.drainRate(h.clock.Now())
	if got == nil {
		t.Fatal("drain rate withheld after five minutes")
	}
	if *got != 10 { // 5 percent over half an hour
		t.Errorf("drain rate = %v percent/hour, want 10", *got)
	}
}

func TestReporterGeneratesIdentity(t *testing.T) {
	h := newHarness(t, okLookup, false)
	rep := newReporter(t, h, Config{})
	if rep.Config().DeviceID == "" {
		t.Error("empty device identity should be replaced with a generated one")
	}
}

func TestReporterSecretOmittedWhenEmpty(t *testing.T) {
	h := newHarness(t, okLookup, false)
	rep := newReporter(t, h, Config{DeviceID: "sv-mistral"})
	rep.Offer(Sample{Time: h.clock.Now(), Lat: 1, Lon: 1})

	if !h.waitUntil(t, 0, func() bool { return h.socket.SentCount() == 1 }) {
		t.Fatal("report never transmitted")
	}
	raw := h.socket.SentData()[0].Data
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if _, present := m["pwd"]; present {
		t.Error("empty secret serialized onto the wire")
	}
}
