package countdown

import (
	"sync"

	"github.com/tidemark-data/regatta.report/internal/monitoring"
)

// Announcer is the audible/haptic sink for countdown checkpoints. Platform
// shells supply speech or tone playback; implementations must swallow device
// failures rather than surface them.
type Announcer interface {
	Say(text string)
}

// NopAnnouncer discards announcements.
type NopAnnouncer struct{}

// Say does nothing.
func (NopAnnouncer) Say(string) {}

// LogAnnouncer writes announcements to the diagnostic log. Used by the
// reference shell and in development.
type LogAnnouncer struct{}

// Say logs the announcement.
func (LogAnnouncer) Say(text string) {
	monitoring.Logf("countdown: %s", text)
}

// RecordingAnnouncer captures announcements for tests.
type RecordingAnnouncer struct {
	mu    sync.Mutex
	calls []string
}

// Say records the announcement.
func (r *RecordingAnnouncer) Say(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, text)
}

// Calls returns a copy of everything announced so far.
func (r *RecordingAnnouncer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
