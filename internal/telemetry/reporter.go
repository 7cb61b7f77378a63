package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidemark-data/regatta.report/internal/timeutil"
	"github.com/tidemark-data/regatta.report/internal/wire"
)

const (
	// Sampling cadence: high-frequency mode batches 1 Hz fixes, normal
	// mode sends one report every ten seconds.
	sampleIntervalHF     = time.Second
	sampleIntervalNormal = 10 * time.Second
	// batchSize is how many buffered fixes trigger a batched report.
	batchSize = 10
	// drainRateMinSession is how much session time must elapse before the
	// battery drain rate is considered meaningful.
	drainRateMinSession = 5 * time.Minute
)

// Config is the immutable settings snapshot a Reporter works from. Swap it
// wholesale with SetConfig; never mutate a snapshot in place.
type Config struct {
	DeviceID      string
	Secret        string
	EventID       int
	Role          wire.Role
	Version       string
	OS            string
	HighFrequency bool
}

// Status carries the device-state fields every report repeats. The shell
// pushes updates whenever they change.
type Status struct {
	Battery           int
	Charging          bool
	Signal            int
	PowerSave         bool
	BatteryOptIgnored *bool
	Assist            bool
}

// Sample is one position fix from the location source.
type Sample struct {
	Time    time.Time
	Lat     float64
	Lon     float64
	Speed   *float64 // knots
	Heading *int     // degrees
}

// Reporter turns position samples into reports at the configured cadence.
// High-frequency mode buffers fixes and sends them batched; normal mode
// sends each selected fix as a single-position report.
type Reporter struct {
	transport *Transport
	clock     timeutil.Clock

	mu           sync.Mutex
	cfg          Config
	status       Status
	buf          []wire.Fix
	lastSample   time.Time
	sessionStart time.Time
	firstBattery int
	haveBattery  bool
}

// NewReporter binds a Reporter to a transport. An empty device identity is
// replaced with a generated one so the server can always distinguish
// clients.
func NewReporter(t *Transport, cfg Config, clock timeutil.Clock) *Reporter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	return &Reporter{
		transport:    t,
		clock:        clock,
		cfg:          cfg,
		sessionStart: clock.Now(),
	}
}

// Config returns the current settings snapshot.
func (r *Reporter) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// SetConfig atomically swaps the settings snapshot. Toggling high-frequency
// mode discards any buffered fixes; the two modes' packets are not mixable.
func (r *Reporter) SetConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.DeviceID == "" {
		cfg.DeviceID = r.cfg.DeviceID
	}
	if cfg.HighFrequency != r.cfg.HighFrequency {
		r.buf = nil
	}
	r.cfg = cfg
}

// UpdateStatus replaces the device-state fields. The first battery reading
// anchors the drain-rate computation.
func (r *Reporter) UpdateStatus(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = st
	if !r.haveBattery {
		r.firstBattery = st.Battery
		r.haveBattery = true
	}
}

// Offer presents a position fix. Fixes arriving faster than the configured
// cadence are dropped; the rest are sent (normal mode) or buffered for the
// next batch (high-frequency mode).
func (r *Reporter) Offer(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	interval := sampleIntervalNormal
	if r.cfg.HighFrequency {
		interval = sampleIntervalHF
	}
	if !r.lastSample.IsZero() && now.Sub(r.lastSample) < interval {
		return
	}
	r.lastSample = now

	if r.cfg.HighFrequency {
		r.buf = append(r.buf, wire.Fix{
			Timestamp: s.Time.Unix(),
			Lat:       s.Lat,
			Lon:       s.Lon,
			Speed:     s.Speed,
		})
		if len(r.buf) >= batchSize {
			r.flushLocked(now)
		}
		return
	}

	rep := r.baseReport(now)
	lat, lon := s.Lat, s.Lon
	rep.Lat = &lat
	rep.Lon = &lon
	rep.Speed = s.Speed
	rep.Heading = s.Heading
	r.transport.Send(rep)
}

// Flush sends any buffered fixes immediately, e.g. on shutdown.
func (r *Reporter) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked(r.clock.Now())
}

// Buffered returns how many fixes await the next batch.
func (r *Reporter) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

func (r *Reporter) flushLocked(now time.Time) {
	if len(r.buf) == 0 {
		return
	}
	rep := r.baseReport(now)
	rep.Positions = r.buf
	r.buf = nil
	r.transport.Send(rep)
}

func (r *Reporter) baseReport(now time.Time) *wire.Report {
	return &wire.Report{
		ID:        r.cfg.DeviceID,
		EventID:   r.cfg.EventID,
		Timestamp: now.Unix(),
		Assist:    r.status.Assist,
		Battery:   r.status.Battery,
		Charging:  r.status.Charging,
		DrainRate: r.drainRate(now),
		Signal:    r.status.Signal,
		Role:      r.cfg.Role,
		Flags: wire.StatusFlags{
			PowerSave:         r.status.PowerSave,
			BatteryOptIgnored: r.status.BatteryOptIgnored,
		},
		Version: r.cfg.Version,
		OS:      r.cfg.OS,
		Secret:  r.cfg.Secret,
	}
}

// drainRate estimates battery consumption in percent per hour. Too early in
// the session the estimate is all noise, so it is withheld for the first
// five minutes.
func (r *Reporter) drainRate(now time.Time) *float64 {
	elapsed := now.Sub(r.sessionStart)
	if !r.haveBattery || elapsed < drainRateMinSession {
		return nil
	}
	rate := float64(r.firstBattery-r.status.Battery) / elapsed.Hours()
	return &rate
}
