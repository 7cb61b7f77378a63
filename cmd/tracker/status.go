package main

import (
	"log"
	"net/http"
	"time"

	"github.com/tidemark-data/regatta.report/internal/countdown"
	"github.com/tidemark-data/regatta.report/internal/httputil"
	"github.com/tidemark-data/regatta.report/internal/journal"
	"github.com/tidemark-data/regatta.report/internal/telemetry"
	"github.com/tidemark-data/regatta.report/internal/version"
)

type statusResponse struct {
	Version      string  `json:"version"`
	LinkQuality  float64 `json:"link_quality"`
	WindowLen    int     `json:"window_len"`
	LastAck      string  `json:"last_ack,omitempty"`
	Escalated    bool    `json:"escalated"`
	TimerState   string  `json:"timer_state,omitempty"`
	TimerSeconds int     `json:"timer_seconds,omitempty"`
}

// serveStatus exposes a small local API for checking link health from
// another terminal while the tracker runs.
func serveStatus(addr string, transport *telemetry.Transport, timer *countdown.Countdown, jdb *journal.DB) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Version:     version.Version,
			LinkQuality: transport.Quality().Ratio(),
			WindowLen:   transport.Quality().WindowLen(),
			Escalated:   transport.Escalated(),
		}
		if last, ok := transport.LastAck(); ok {
			resp.LastAck = last.UTC().Format(time.RFC3339)
		}
		if timer != nil {
			resp.TimerState = timer.State().String()
			resp.TimerSeconds = timer.Seconds()
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("GET /api/outcomes", func(w http.ResponseWriter, r *http.Request) {
		if jdb == nil {
			httputil.WriteJSONError(w, http.StatusNotFound, "journal not enabled")
			return
		}
		outcomes, err := jdb.RecentOutcomes(100)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, outcomes)
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("status server stopped: %v", err)
	}
}
