package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tidemark-data/regatta.report/internal/config"
	"github.com/tidemark-data/regatta.report/internal/countdown"
	"github.com/tidemark-data/regatta.report/internal/httputil"
	"github.com/tidemark-data/regatta.report/internal/journal"
	"github.com/tidemark-data/regatta.report/internal/motion"
	"github.com/tidemark-data/regatta.report/internal/network"
	"github.com/tidemark-data/regatta.report/internal/resolver"
	"github.com/tidemark-data/regatta.report/internal/telemetry"
	"github.com/tidemark-data/regatta.report/internal/units"
	"github.com/tidemark-data/regatta.report/internal/version"
)

var (
	configPath = flag.String("config", "tracker.json", "Path to tracker config JSON")
	listen     = flag.String("listen", "127.0.0.1:8088", "Local status API listen address")
	fixtures   = flag.String("fixtures", "", "Replay position fixes from a file instead of stdin")
	hostFlag   = flag.String("host", "", "Override server host")
	portFlag   = flag.Int("port", 0, "Override server UDP port")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *hostFlag != "" {
		cfg.Host = hostFlag
	}
	if *portFlag != 0 {
		cfg.Port = portFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var outcome func(telemetry.Outcome)
	var jdb *journal.DB
	if path := cfg.GetJournalPath(); path != "" {
		jdb, err = journal.Open(path)
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		defer jdb.Close()
		outcome = func(o telemetry.Outcome) {
			if err := jdb.RecordOutcome(o); err != nil {
				log.Printf("failed to journal outcome for seq %d: %v", o.Seq, err)
			}
		}
	}

	socket, err := network.RealUDPSocketFactory{}.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		log.Fatalf("failed to open UDP socket: %v", err)
	}

	transport := telemetry.NewTransport(telemetry.TransportConfig{
		Socket:      socket,
		Resolver:    resolver.New(cfg.GetHost(), cfg.GetPort(), nil, nil),
		HTTPClient:  httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second}),
		FallbackURL: cfg.GetFallbackURL(),
		Outcome:     outcome,
	})
	transport.Start()
	defer transport.Stop()

	go func() {
		for ev := range transport.Events() {
			switch ev.Kind {
			case telemetry.EventAuthError:
				log.Print("server rejected credentials; check device_id and secret")
			case telemetry.EventServerError:
				log.Printf("server error for seq %d", ev.Seq)
			}
		}
	}()

	reporter := telemetry.NewReporter(transport, telemetry.Config{
		DeviceID:      cfg.DeviceID,
		Secret:        cfg.Secret,
		EventID:       cfg.GetEventID(),
		Role:          cfg.GetRole(),
		Version:       version.Version,
		OS:            "linux",
		HighFrequency: cfg.GetHighFrequency(),
	}, nil)
	// The reference shell has no battery or cell-signal telemetry to read;
	// report a full battery so the drain-rate field stays quiet.
	reporter.UpdateStatus(telemetry.Status{Battery: 100, Signal: 4, Assist: true})
	log.Printf("reporting to %s:%d as %s (%s)", cfg.GetHost(), cfg.GetPort(),
		reporter.Config().DeviceID, cfg.GetRole())

	beeper := telemetry.NewBeeper(terminalHaptics{}, transport.LastAck, nil)
	beeper.Start()
	defer beeper.Stop()

	var timer *countdown.Countdown
	if cfg.GetRaceTimer() {
		timer = countdown.New(countdown.LogAnnouncer{}, nil)
		if port := cfg.GetMotionPort(); port != "" {
			src, err := motion.NewSerialSource(port, cfg.GetMotionBaud())
			if err != nil {
				log.Fatalf("failed to open motion port: %v", err)
			}
			trigger := countdown.NewTapTrigger(cfg.GetTapSensitivity(), func() {
				timer.Toggle(cfg.GetStartMinutes())
			}, nil)
			go func() {
				if err := src.Monitor(ctx); err != nil {
					log.Printf("motion monitor stopped: %v", err)
				}
			}()
			go func() {
				for s := range src.Samples() {
					trigger.Sample(s.X, s.Y, s.Z)
				}
			}()
		}
	}

	go serveStatus(*listen, transport, timer, jdb)

	feed, err := openFeed(*fixtures)
	if err != nil {
		log.Fatalf("failed to open position feed: %v", err)
	}
	go feedPositions(ctx, feed, reporter)

	<-ctx.Done()
	log.Print("shutting down")
	reporter.Flush()
}

// openFeed returns the position input: a fixtures file when given, stdin
// otherwise.
func openFeed(path string) (io.Reader, error) {
	if path == "" {
		return os.Stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// feedPositions parses "lat,lon[,speed[,heading]]" lines and offers each
// fix to the reporter. Bad lines are logged and skipped.
func feedPositions(ctx context.Context, r io.Reader, reporter *telemetry.Reporter) {
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		if ctx.Err() != nil {
			return
		}
		sample, err := parseFixLine(scan.Text())
		if err != nil {
			log.Printf("bad position line: %v", err)
			continue
		}
		reporter.Offer(sample)
	}
	if err := scan.Err(); err != nil {
		log.Printf("position feed stopped: %v", err)
	}
}

func parseFixLine(line string) (telemetry.Sample, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 2 || len(parts) > 4 {
		return telemetry.Sample{}, fmt.Errorf("%q: want lat,lon[,speed[,heading]]", line)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return telemetry.Sample{}, fmt.Errorf("%q: bad latitude: %w", line, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return telemetry.Sample{}, fmt.Errorf("%q: bad longitude: %w", line, err)
	}
	s := telemetry.Sample{Time: time.Now(), Lat: lat, Lon: lon}
	if len(parts) >= 3 {
		// Position sources report speed over ground in m/s; the wire wants
		// knots.
		mps, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return telemetry.Sample{}, fmt.Errorf("%q: bad speed: %w", line, err)
		}
		speed := units.KnotsFromMPS(mps)
		s.Speed = &speed
	}
	if len(parts) == 4 {
		heading, err := strconv.Atoi(strings.TrimSpace(parts[3]))
		if err != nil {
			return telemetry.Sample{}, fmt.Errorf("%q: bad heading: %w", line, err)
		}
		s.Heading = &heading
	}
	return s, nil
}

// terminalHaptics renders reminder pulses as terminal bells.
type terminalHaptics struct{}

func (terminalHaptics) Pulse(n int) {
	fmt.Print(strings.Repeat("\a", n))
}
