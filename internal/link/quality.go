package link

import "sync"

// windowSize caps the rolling outcome window.
const windowSize = 20

// Tracker maintains a fixed-size window of per-report outcomes (acked or
// timed out) and exposes the success ratio. Each sequence contributes at
// most one entry: the receive loop records a success the moment an ack
// arrives, and the send loop records a failure only after exhausting its
// retries, so a late ack must not add a second entry for the same report.
type Tracker struct {
	mu       sync.Mutex
	window   []bool
	recorded map[uint64]struct{}
	maxSeq   uint64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{recorded: make(map[uint64]struct{})}
}

// Record adds the outcome for seq to the window. Repeat calls for the same
// sequence are ignored. Returns whether the outcome was recorded.
func (t *Tracker) Record(seq uint64, success bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.recorded[seq]; dup {
		return false
	}
	t.recorded[seq] = struct{}{}
	if seq > t.maxSeq {
		t.maxSeq = seq
	}
	// The recorded set uses the same eviction policy as the AckSet.
	if t.maxSeq > ackPruneWindow {
		floor := t.maxSeq - ackPruneWindow
		for k := range t.recorded {
			if k < floor {
				delete(t.recorded, k)
			}
		}
	}

	t.window = append(t.window, success)
	if len(t.window) > windowSize {
		t.window = t.window[1:]
	}
	return true
}

// Ratio returns successes divided by the number of entries in the window,
// or 0 when the window is empty.
func (t *Tracker) Ratio() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.window) == 0 {
		return 0
	}
	success := 0
	for _, ok := range t.window {
		if ok {
			success++
		}
	}
	return float64(success) / float64(len(t.window))
}

// WindowLen returns the number of outcomes currently in the window.
func (t *Tracker) WindowLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.window)
}
