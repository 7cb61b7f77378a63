package motion

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"
)

func TestMockSourceReplaysLines(t *testing.T) {
	src := NewMockSource(strings.NewReader("0.0,0.0,1.0\n1.0,2.0,2.0\n"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- src.Monitor(ctx) }()

	first := <-src.Samples()
	if first.Z != 1.0 {
		t.Errorf("first sample Z = %v, want 1.0", first.Z)
	}
	second := <-src.Samples()
	if got, want := second.Magnitude(), 3.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("second magnitude = %v, want %v", got, want)
	}

	if err := <-done; err != nil {
		t.Fatalf("Monitor returned error: %v", err)
	}
}

func TestMonitorSkipsGarbageLines(t *testing.T) {
	src := NewMockSource(strings.NewReader("$GPRMC,nonsense\n1,1\n0.5,0.5,0.5\n"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go src.Monitor(ctx)

	select {
	case s := <-src.Samples():
		if s.X != 0.5 {
			t.Errorf("sample X = %v, want 0.5", s.X)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sample delivered past garbage lines")
	}
}

func TestMonitorStopsOnCancel(t *testing.T) {
	// No consumer: Monitor blocks on the unbuffered send until cancelled.
	src := NewMockSource(strings.NewReader("1,2,3\n4,5,6\n"))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- src.Monitor(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Monitor returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestParseSampleLine(t *testing.T) {
	cases := []struct {
		line    string
		want    Sample
		wantErr bool
	}{
		{"0.1,0.2,0.3", Sample{0.1, 0.2, 0.3}, false},
		{" 1.0 , -2.0 , 3.5 ", Sample{1.0, -2.0, 3.5}, false},
		{"1,2", Sample{}, true},
		{"a,b,c", Sample{}, true},
		{"", Sample{}, true},
	}
	for _, tc := range cases {
		got, err := parseSampleLine(tc.line)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseSampleLine(%q): expected error", tc.line)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSampleLine(%q): %v", tc.line, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseSampleLine(%q) = %+v, want %+v", tc.line, got, tc.want)
		}
	}
}
