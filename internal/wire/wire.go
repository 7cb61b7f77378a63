// Package wire defines the tracker wire schema: position/status reports sent
// over UDP (or the HTTP fallback) and the acknowledgments that come back.
// Field tags are a fixed contract shared with the server; do not rename them.
package wire

import (
	"encoding/json"
	"fmt"
)

// Role identifies which kind of participant is sending reports.
type Role string

const (
	RoleSailor    Role = "sailor"
	RoleSupport   Role = "support"
	RoleSpectator Role = "spectator"
)

// StatusFlags carries device status bits. BatteryOptIgnored is only known on
// platforms that expose it, so it is omitted entirely when nil.
type StatusFlags struct {
	PowerSave         bool  `json:"ps"`
	BatteryOptIgnored *bool `json:"bo,omitempty"`
}

// Fix is one buffered position sample inside a batched report. On the wire it
// is a bare array, [ts, lat, lon] or [ts, lat, lon, spd], to keep batched
// packets compact.
type Fix struct {
	Timestamp int64
	Lat       float64
	Lon       float64
	Speed     *float64 // knots
}

// MarshalJSON encodes the fix as a positional array.
func (f Fix) MarshalJSON() ([]byte, error) {
	if f.Speed != nil {
		return json.Marshal([]float64{float64(f.Timestamp), f.Lat, f.Lon, *f.Speed})
	}
	return json.Marshal([]float64{float64(f.Timestamp), f.Lat, f.Lon})
}

// UnmarshalJSON decodes a positional array of 3 or 4 elements.
func (f *Fix) UnmarshalJSON(b []byte) error {
	var vals []float64
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	if len(vals) != 3 && len(vals) != 4 {
		return fmt.Errorf("position tuple has %d elements, want 3 or 4", len(vals))
	}
	f.Timestamp = int64(vals[0])
	f.Lat = vals[1]
	f.Lon = vals[2]
	f.Speed = nil
	if len(vals) == 4 {
		spd := vals[3]
		f.Speed = &spd
	}
	return nil
}

// Report is one telemetry message. A single-position report carries Lat/Lon
// (plus Speed/Heading); a batched report carries Positions instead. The
// shared secret is omitted when empty because the server keys behavior off
// field presence, not off an empty value.
type Report struct {
	ID        string      `json:"id"`
	EventID   int         `json:"eid"`
	Sequence  uint64      `json:"sq"`
	Timestamp int64       `json:"ts"`
	Lat       *float64    `json:"lat,omitempty"`
	Lon       *float64    `json:"lon,omitempty"`
	Speed     *float64    `json:"spd,omitempty"` // knots
	Heading   *int        `json:"hdg,omitempty"` // degrees
	Positions []Fix       `json:"pos,omitempty"`
	Assist    bool        `json:"ast"`
	Battery   int         `json:"bat"`
	Charging  bool        `json:"chg"`
	DrainRate *float64    `json:"bdr,omitempty"` // percent per hour
	Signal    int         `json:"sig"`
	Role      Role        `json:"role"`
	Flags     StatusFlags `json:"flg"`
	Version   string      `json:"ver"`
	OS        string      `json:"os"`
	Secret    string      `json:"pwd,omitempty"`
}

// Batched reports whether the report carries a position array rather than a
// single fix.
func (r *Report) Batched() bool { return len(r.Positions) > 0 }

// EncodeReport serializes a report for transmission.
func EncodeReport(r *Report) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode report seq %d: %w", r.Sequence, err)
	}
	return b, nil
}

// Ack is the server's response to a report. Every optional field tolerates
// absence; unknown fields are ignored.
type Ack struct {
	Ack    uint64 `json:"ack"`
	Event  string `json:"event,omitempty"`
	Error  string `json:"error,omitempty"`
	Msg    string `json:"msg,omitempty"`
	Assist *bool  `json:"assist,omitempty"`
}

// AuthFailed reports whether the server rejected the shared secret.
func (a *Ack) AuthFailed() bool { return a.Error == "auth" }

// AssistEnabled reports the server's assist setting for the event. Absence
// means assist is assumed enabled.
func (a *Ack) AssistEnabled() bool { return a.Assist == nil || *a.Assist }

// AckKind classifies an inbound datagram.
type AckKind int

const (
	// AckGarbage is an unparseable or non-acknowledgment datagram. It is
	// discarded by the caller, never surfaced as an error.
	AckGarbage AckKind = iota
	// AckValid is a normal acknowledgment.
	AckValid
	// AckError is an acknowledgment carrying a server-reported error. It
	// must not be treated as delivery confirmation.
	AckError
)

// DecodeAck parses an inbound datagram and classifies it. A datagram without
// a positive ack sequence is garbage regardless of whether it parses as JSON.
func DecodeAck(b []byte) (*Ack, AckKind) {
	var a Ack
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, AckGarbage
	}
	if a.Ack == 0 {
		return nil, AckGarbage
	}
	if a.Error != "" {
		return &a, AckError
	}
	return &a, AckValid
}
