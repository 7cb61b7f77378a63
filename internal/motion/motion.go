// Package motion reads accelerometer samples for the tap trigger. The
// reference shell attaches an external IMU over a serial port emitting one
// "x,y,z" line per sample; platform shells substitute their own Source.
package motion

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.bug.st/serial"

	"github.com/tidemark-data/regatta.report/internal/monitoring"
)

// Sample is one accelerometer reading in g.
type Sample struct {
	X, Y, Z float64
}

// Magnitude is the Euclidean norm of the sample, the quantity the tap
// detector thresholds against its baseline.
func (s Sample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Source produces motion samples until its context is cancelled.
type Source interface {
	Samples() <-chan Sample
	Monitor(ctx context.Context) error
	Close() error
}

// SerialSource reads samples from a serial IMU.
type SerialSource struct {
	port    serial.Port
	samples chan Sample
}

// NewSerialSource opens portName at the given baud rate.
func NewSerialSource(portName string, baud int) (*SerialSource, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: 1,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open motion port %s: %w", portName, err)
	}
	return &SerialSource{port: port, samples: make(chan Sample)}, nil
}

// Samples returns the sample channel fed by Monitor.
func (s *SerialSource) Samples() <-chan Sample {
	return s.samples
}

// Close closes the serial port, which unblocks a Monitor stuck in a read.
func (s *SerialSource) Close() error {
	return s.port.Close()
}

// Monitor reads lines from the port until the context is cancelled or the
// port closes. Unparseable lines are logged and skipped; a glitchy IMU must
// not kill the loop.
func (s *SerialSource) Monitor(ctx context.Context) error {
	defer s.Close()
	return scanSamples(ctx, s.port, s.samples)
}

// MockSource replays samples from a reader, mirroring SerialSource for
// tests and development.
type MockSource struct {
	Data    io.Reader
	samples chan Sample
}

// NewMockSource wraps r as a Source.
func NewMockSource(r io.Reader) *MockSource {
	return &MockSource{Data: r, samples: make(chan Sample)}
}

// Samples returns the sample channel.
func (m *MockSource) Samples() <-chan Sample { return m.samples }

// Monitor replays the reader's lines.
func (m *MockSource) Monitor(ctx context.Context) error {
	return scanSamples(ctx, m.Data, m.samples)
}

// Close is a no-op.
func (m *MockSource) Close() error { return nil }

func scanSamples(ctx context.Context, r io.Reader, out chan<- Sample) error {
	scan := bufio.NewScanner(r)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if !scan.Scan() {
				return scan.Err()
			}
			sample, err := parseSampleLine(scan.Text())
			if err != nil {
				monitoring.Logf("motion: %v", err)
				continue
			}
			select {
			case out <- sample:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// parseSampleLine parses an "x,y,z" CSV line.
func parseSampleLine(line string) (Sample, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 3 {
		return Sample{}, fmt.Errorf("sample line %q has %d fields, want 3", line, len(parts))
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("sample line %q: %w", line, err)
		}
		vals[i] = v
	}
	return Sample{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}
