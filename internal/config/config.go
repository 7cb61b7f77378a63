// Package config loads the tracker configuration from a JSON file. All
// fields are optional pointers so a partial config overrides only what it
// names; Get* accessors supply the defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidemark-data/regatta.report/internal/wire"
)

// TrackerConfig is the root configuration for the tracker process.
type TrackerConfig struct {
	// Server endpoint
	Host        *string `json:"host,omitempty"`
	Port        *int    `json:"port,omitempty"`
	FallbackURL *string `json:"fallback_url,omitempty"`

	// Identity and enrollment
	DeviceID string  `json:"device_id,omitempty"`
	Secret   string  `json:"secret,omitempty"`
	EventID  *int    `json:"event_id,omitempty"`
	Role     *string `json:"role,omitempty"`

	// Reporting behavior
	HighFrequency *bool `json:"high_frequency,omitempty"`

	// Race timer
	RaceTimer      *bool    `json:"race_timer,omitempty"`
	StartMinutes   *int     `json:"start_minutes,omitempty"`
	TapSensitivity *float64 `json:"tap_sensitivity,omitempty"`
	MotionPort     *string  `json:"motion_port,omitempty"`
	MotionBaud     *int     `json:"motion_baud,omitempty"`

	// Local state
	JournalPath *string `json:"journal_path,omitempty"`
}

// Load reads and validates a TrackerConfig from a JSON file. Missing fields
// keep their defaults, so a config naming only host and device_id is valid.
func Load(path string) (*TrackerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TrackerConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that set fields carry usable values.
func (c *TrackerConfig) Validate() error {
	if c.Port != nil {
		if *c.Port < 1 || *c.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", *c.Port)
		}
	}
	if c.Role != nil {
		switch wire.Role(*c.Role) {
		case wire.RoleSailor, wire.RoleSupport, wire.RoleSpectator:
		default:
			return fmt.Errorf("unknown role %q", *c.Role)
		}
	}
	if c.StartMinutes != nil {
		if *c.StartMinutes < 1 || *c.StartMinutes > 30 {
			return fmt.Errorf("start_minutes must be between 1 and 30, got %d", *c.StartMinutes)
		}
	}
	if c.TapSensitivity != nil {
		if *c.TapSensitivity <= 0 {
			return fmt.Errorf("tap_sensitivity must be positive, got %f", *c.TapSensitivity)
		}
	}
	if c.MotionBaud != nil {
		if *c.MotionBaud <= 0 {
			return fmt.Errorf("motion_baud must be positive, got %d", *c.MotionBaud)
		}
	}
	return nil
}

// GetHost returns the server host or the default.
func (c *TrackerConfig) GetHost() string {
	if c.Host == nil || *c.Host == "" {
		return "track.regatta.report"
	}
	return *c.Host
}

// GetPort returns the server UDP port or the default.
func (c *TrackerConfig) GetPort() int {
	if c.Port == nil {
		return 41234
	}
	return *c.Port
}

// GetFallbackURL returns the HTTP fallback endpoint, derived from the host
// when not set explicitly.
func (c *TrackerConfig) GetFallbackURL() string {
	if c.FallbackURL == nil || *c.FallbackURL == "" {
		return fmt.Sprintf("https://%s/api/tracker", c.GetHost())
	}
	return *c.FallbackURL
}

// GetEventID returns the enrolled event identifier, zero when unenrolled.
func (c *TrackerConfig) GetEventID() int {
	if c.EventID == nil {
		return 0
	}
	return *c.EventID
}

// GetRole returns the reporting role or the default.
func (c *TrackerConfig) GetRole() wire.Role {
	if c.Role == nil || *c.Role == "" {
		return wire.RoleSailor
	}
	return wire.Role(*c.Role)
}

// GetHighFrequency returns whether batched 1Hz reporting is enabled.
func (c *TrackerConfig) GetHighFrequency() bool {
	if c.HighFrequency == nil {
		return false
	}
	return *c.HighFrequency
}

// GetRaceTimer returns whether the start countdown is enabled.
func (c *TrackerConfig) GetRaceTimer() bool {
	if c.RaceTimer == nil {
		return false
	}
	return *c.RaceTimer
}

// GetStartMinutes returns the countdown length in minutes.
func (c *TrackerConfig) GetStartMinutes() int {
	if c.StartMinutes == nil {
		return 5
	}
	return *c.StartMinutes
}

// GetTapSensitivity returns the tap detector sensitivity multiplier.
func (c *TrackerConfig) GetTapSensitivity() float64 {
	if c.TapSensitivity == nil {
		return 3.0
	}
	return *c.TapSensitivity
}

// GetMotionPort returns the serial IMU port, empty when no IMU is attached.
func (c *TrackerConfig) GetMotionPort() string {
	if c.MotionPort == nil {
		return ""
	}
	return *c.MotionPort
}

// GetMotionBaud returns the serial IMU baud rate or the default.
func (c *TrackerConfig) GetMotionBaud() int {
	if c.MotionBaud == nil {
		return 115200
	}
	return *c.MotionBaud
}

// GetJournalPath returns the sqlite journal path, empty when journaling is
// disabled.
func (c *TrackerConfig) GetJournalPath() string {
	if c.JournalPath == nil {
		return ""
	}
	return *c.JournalPath
}
