package countdown

import (
	"math"
	"sync"
	"time"

	"github.com/tidemark-data/regatta.report/internal/timeutil"
)

const (
	// DefaultSensitivity fires on a spike about three baselines above the
	// resting magnitude.
	DefaultSensitivity = 3.0
	// tapCooldown keeps one physical tap from firing twice.
	tapCooldown = time.Second
	// baselineAlpha is the smoothing factor for the rolling baseline.
	baselineAlpha = 0.05
)

// TapTrigger converts a motion-sample stream into discrete fire events. The
// magnitude of each sample is compared against a slowly adapting baseline;
// a deviation beyond sensitivity×baseline fires, subject to a cooldown.
type TapTrigger struct {
	clock timeutil.Clock
	fire  func()

	mu          sync.Mutex
	sensitivity float64
	baseline    float64
	primed      bool
	lastFire    time.Time
}

// NewTapTrigger builds a trigger invoking fire on each detected tap.
// Sensitivity is in multiples of the baseline; zero or negative selects the
// default.
func NewTapTrigger(sensitivity float64, fire func(), clock timeutil.Clock) *TapTrigger {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if sensitivity <= 0 {
		sensitivity = DefaultSensitivity
	}
	return &TapTrigger{clock: clock, fire: fire, sensitivity: sensitivity}
}

// SetSensitivity adjusts the firing threshold at runtime.
func (t *TapTrigger) SetSensitivity(s float64) {
	if s <= 0 {
		return
	}
	t.mu.Lock()
	t.sensitivity = s
	t.mu.Unlock()
}

// Sample feeds one accelerometer reading. Fires at most once per cooldown.
func (t *TapTrigger) Sample(x, y, z float64) {
	mag := math.Sqrt(x*x + y*y + z*z)

	t.mu.Lock()
	if !t.primed {
		t.baseline = mag
		t.primed = true
		t.mu.Unlock()
		return
	}

	dev := math.Abs(mag - t.baseline)
	if dev > t.sensitivity*t.baseline {
		// A spike: do not fold it into the baseline.
		if t.clock.Since(t.lastFire) < tapCooldown {
			t.mu.Unlock()
			return
		}
		t.lastFire = t.clock.Now()
		fire := t.fire
		t.mu.Unlock()
		if fire != nil {
			fire()
		}
		return
	}

	t.baseline = (1-baselineAlpha)*t.baseline + baselineAlpha*mag
	t.mu.Unlock()
}
