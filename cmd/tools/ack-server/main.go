// ack-server is a development stand-in for the tracking server: it listens
// on UDP, prints each report it can parse, and acknowledges it. Flags
// simulate packet loss, ack latency, and auth rejection so the tracker's
// retry and escalation paths can be exercised locally.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/tidemark-data/regatta.report/internal/httputil"
	"github.com/tidemark-data/regatta.report/internal/wire"
)

var (
	listen     = flag.String("listen", ":41234", "UDP listen address")
	httpListen = flag.String("http", "", "Also serve the HTTP fallback endpoint on this address")
	dropRate   = flag.Float64("drop", 0, "Fraction of acks to silently drop (0..1)")
	delay      = flag.Duration("delay", 0, "Artificial delay before each ack")
	secret     = flag.String("secret", "", "Reject reports whose pwd does not match (empty accepts all)")
	eventName  = flag.String("event", "dev-regatta", "Event name echoed in acks")
)

func main() {
	flag.Parse()

	addr, err := net.ResolveUDPAddr("udp", *listen)
	if err != nil {
		log.Fatal(err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()
	fmt.Printf("ack server listening on %s (drop=%.2f delay=%v)\n", *listen, *dropRate, *delay)

	if *httpListen != "" {
		go serveFallback(*httpListen)
	}

	buffer := make([]byte, 65536)
	for {
		n, remote, err := conn.ReadFromUDP(buffer)
		if err != nil {
			log.Printf("read error: %v", err)
			continue
		}
		ack, summary := handleReport(buffer[:n])
		if ack == nil {
			log.Printf("unparseable datagram from %v (%d bytes)", remote, n)
			continue
		}
		fmt.Println(summary)

		if *dropRate > 0 && rand.Float64() < *dropRate {
			log.Printf("dropping ack for seq %d", ack.Ack)
			continue
		}
		go func(remote *net.UDPAddr, ack *wire.Ack) {
			if *delay > 0 {
				time.Sleep(*delay)
			}
			body, err := json.Marshal(ack)
			if err != nil {
				log.Printf("encode ack: %v", err)
				return
			}
			if _, err := conn.WriteToUDP(body, remote); err != nil {
				log.Printf("write ack: %v", err)
			}
		}(remote, ack)
	}
}

// handleReport parses one report and builds its ack.
func handleReport(data []byte) (*wire.Ack, string) {
	var r wire.Report
	if err := json.Unmarshal(data, &r); err != nil || r.Sequence == 0 {
		return nil, ""
	}

	ack := &wire.Ack{Ack: r.Sequence, Event: *eventName}
	if *secret != "" && r.Secret != *secret {
		ack.Error = "auth"
		ack.Msg = "bad secret"
		return ack, fmt.Sprintf("seq %d from %s: AUTH REJECTED", r.Sequence, r.ID)
	}

	if r.Batched() {
		return ack, fmt.Sprintf("seq %d from %s: batch of %d fixes, bat=%d%%",
			r.Sequence, r.ID, len(r.Positions), r.Battery)
	}
	var lat, lon float64
	if r.Lat != nil {
		lat = *r.Lat
	}
	if r.Lon != nil {
		lon = *r.Lon
	}
	return ack, fmt.Sprintf("seq %d from %s: %.5f,%.5f bat=%d%% sig=%d role=%s",
		r.Sequence, r.ID, lat, lon, r.Battery, r.Signal, r.Role)
}

// serveFallback implements the HTTP escalation endpoint with the same ack
// semantics as the UDP path.
func serveFallback(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tracker", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
		if err != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, "read body failed")
			return
		}
		ack, summary := handleReport(body)
		if ack == nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, "unparseable report")
			return
		}
		fmt.Println(summary + " (http)")
		if *delay > 0 {
			time.Sleep(*delay)
		}
		httputil.WriteJSON(w, http.StatusOK, ack)
	})
	fmt.Printf("fallback endpoint on %s\n", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}
