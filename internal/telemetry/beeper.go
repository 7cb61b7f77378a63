package telemetry

import (
	"sync"
	"time"

	"github.com/tidemark-data/regatta.report/internal/timeutil"
)

// reminderInterval is both the beeper cadence and the ack-recency horizon.
const reminderInterval = 60 * time.Second

// Haptics is the pulse sink the beeper drives. Best-effort: implementations
// must swallow device failures.
type Haptics interface {
	Pulse(count int)
}

// Beeper emits a periodic liveness reminder encoding acknowledgment health:
// one pulse when an ack arrived within the last interval, two when the link
// has gone quiet. It lets a sailor know the tracker is alive without
// looking at a display.
type Beeper struct {
	clock   timeutil.Clock
	haptics Haptics
	lastAck func() (time.Time, bool)

	mu      sync.Mutex
	stop    chan struct{}
	running bool
	wg      sync.WaitGroup
}

// NewBeeper builds a Beeper. lastAck is typically Transport.LastAck.
func NewBeeper(haptics Haptics, lastAck func() (time.Time, bool), clock timeutil.Clock) *Beeper {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Beeper{clock: clock, haptics: haptics, lastAck: lastAck}
}

// Start begins the reminder loop. Starting twice is a no-op.
func (b *Beeper) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stop = make(chan struct{})
	b.wg.Add(1)
	go b.run(b.stop)
}

// Stop ends the reminder loop.
func (b *Beeper) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stop)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Beeper) run(stop chan struct{}) {
	defer b.wg.Done()
	ticker := b.clock.NewTicker(reminderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			b.remind()
		}
	}
}

func (b *Beeper) remind() {
	if ackAt, ok := b.lastAck(); ok && b.clock.Since(ackAt) <= reminderInterval {
		b.haptics.Pulse(1)
		return
	}
	b.haptics.Pulse(2)
}
