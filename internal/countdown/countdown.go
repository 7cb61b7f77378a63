// Package countdown implements the race-start timer: a countdown state
// machine with latency-compensated audio checkpoints, and the tap trigger
// that starts or resets it from a motion sensor.
package countdown

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tidemark-data/regatta.report/internal/timeutil"
)

// State is the countdown lifecycle.
type State int

const (
	// Idle means no countdown is active.
	Idle State = iota
	// Running means a target time is set and the tick loop is live.
	Running
	// Expired means the target time has passed. Only Reset leaves it.
	Expired
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Expired:
		return "expired"
	default:
		return "idle"
	}
}

const (
	// tickInterval is the recompute rate. Well under a second so the
	// latency-compensated announcement second is caught close to its
	// boundary.
	tickInterval = 50 * time.Millisecond
	// announceLatency is subtracted before deriving the announcement
	// second, tuned to the speech pipeline's own delay so checkpoints
	// are heard at the checkpoint, not after it.
	announceLatency = 250 * time.Millisecond
	// expireGrace keeps the timer in Running slightly past zero so the
	// "start" announcement is never cut off by the state change.
	expireGrace = 500 * time.Millisecond

	// SecondsIdle is the display value when no countdown is active,
	// distinct from the 0 an expired countdown shows.
	SecondsIdle = -1
)

// Countdown is the race-start timer. One active timer at a time; Start while
// Running is ignored. The tap trigger and the tick loop run on different
// goroutines, so every state transition goes through the mutex.
type Countdown struct {
	clock     timeutil.Clock
	announcer Announcer

	mu            sync.Mutex
	state         State
	target        time.Time
	lastAnnounced int
	stop          chan struct{}
	display       int
}

// New returns an Idle countdown announcing through a.
func New(a Announcer, clock timeutil.Clock) *Countdown {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if a == nil {
		a = NopAnnouncer{}
	}
	return &Countdown{clock: clock, announcer: a, state: Idle, display: SecondsIdle, lastAnnounced: SecondsIdle}
}

// State returns the current lifecycle state.
func (c *Countdown) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Seconds returns the user-visible seconds remaining: SecondsIdle when no
// countdown is active, 0 once expired.
func (c *Countdown) Seconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.display
}

// Start begins a countdown of the given duration. Ignored unless Idle. The
// starting duration is announced immediately; the target end time is derived
// once and never recomputed.
func (c *Countdown) Start(minutes int) {
	c.mu.Lock()
	if c.state != Idle || minutes <= 0 {
		c.mu.Unlock()
		return
	}
	c.state = Running
	c.target = c.clock.Now().Add(time.Duration(minutes) * time.Minute)
	c.display = minutes * 60
	c.lastAnnounced = minutes * 60
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	c.announcer.Say(minutesText(minutes))
	go c.run(stop)
}

// Reset cancels any countdown and returns to Idle, from Running or Expired.
// A reset cue is announced. Pending announcements from the old tick loop
// are suppressed.
func (c *Countdown) Reset() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.state = Idle
	c.display = SecondsIdle
	c.lastAnnounced = SecondsIdle
	c.mu.Unlock()

	c.announcer.Say("reset")
}

// Toggle is the tap-trigger action: start when Idle, reset otherwise.
func (c *Countdown) Toggle(minutes int) {
	if c.State() == Idle {
		c.Start(minutes)
	} else {
		c.Reset()
	}
}

func (c *Countdown) run(stop chan struct{}) {
	ticker := c.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if done := c.tick(stop); done {
				return
			}
		}
	}
}

// tick recomputes remaining time, updates the display value, and announces
// a checkpoint when the compensated announcement second changes. Returns
// true once this loop should exit.
func (c *Countdown) tick(stop chan struct{}) bool {
	c.mu.Lock()
	if c.state != Running || c.stop != stop {
		// A reset replaced or cleared this loop while a tick was
		// already queued.
		c.mu.Unlock()
		return true
	}

	remaining := c.target.Sub(c.clock.Now())

	// Round to nearest rather than truncate so the display never shows
	// the same second twice around a boundary.
	c.display = int(math.Round(remaining.Seconds()))

	if remaining <= -expireGrace {
		c.state = Expired
		c.display = 0
		c.stop = nil
		c.mu.Unlock()
		return true
	}

	text := ""
	annSec := int(math.Ceil((remaining - announceLatency).Seconds()))
	if annSec != c.lastAnnounced {
		c.lastAnnounced = annSec
		text = checkpointText(annSec)
	}
	c.mu.Unlock()

	if text != "" {
		// Best effort: the announcer must never block or fail the
		// state machine.
		c.announcer.Say(text)
	}
	return false
}

// checkpointText returns the announcement for a remaining-seconds value, or
// "" when the value is not a checkpoint. Checkpoints: every whole minute,
// 30 s, 20 s, each second from 10 down to 1, and "start" at zero.
func checkpointText(sec int) string {
	switch {
	case sec == 0:
		return "start"
	case sec >= 1 && sec <= 10:
		return fmt.Sprintf("%d", sec)
	case sec == 20 || sec == 30:
		return fmt.Sprintf("%d seconds", sec)
	case sec > 0 && sec%60 == 0:
		return minutesText(sec / 60)
	default:
		return ""
	}
}

func minutesText(min int) string {
	if min == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", min)
}
