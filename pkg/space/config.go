package space

import (
	"log/slog"
	"time"
)

// Orchestration defaults.
const (
	DefaultMaxSpeakers        = 5
	DefaultSpeakerDuration    = 5 * time.Minute
	DefaultTotalDuration      = time.Hour
	DefaultEmptyGrace         = 5 * time.Minute
	DefaultManagementInterval = 20 * time.Second
	DefaultAcceptTimeout      = 15 * time.Second
)

// Config holds orchestrator policy. Zero values fall back to the defaults
// above.
type Config struct {
	// RoomID identifies the room being hosted or joined.
	RoomID string

	// UserID is this process's identity in the room.
	UserID string

	// MaxSpeakers caps concurrently admitted speakers.
	MaxSpeakers int

	// SpeakerDuration caps how long one admitted speaker may hold the
	// slot before the management tick removes them.
	SpeakerDuration time.Duration

	// TotalDuration caps the whole session.
	TotalDuration time.Duration

	// EmptyGrace ends the session after the room has had zero speakers
	// and zero listeners for this long.
	EmptyGrace time.Duration

	// ManagementInterval is the cadence of the host's admission and
	// eviction tick.
	ManagementInterval time.Duration

	// AcceptTimeout bounds a guest's wait for speaker approval before
	// the request is withdrawn.
	AcceptTimeout time.Duration

	// Logger for orchestration events. Defaults to slog.Default.
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxSpeakers <= 0 {
		c.MaxSpeakers = DefaultMaxSpeakers
	}
	if c.SpeakerDuration <= 0 {
		c.SpeakerDuration = DefaultSpeakerDuration
	}
	if c.TotalDuration <= 0 {
		c.TotalDuration = DefaultTotalDuration
	}
	if c.EmptyGrace <= 0 {
		c.EmptyGrace = DefaultEmptyGrace
	}
	if c.ManagementInterval <= 0 {
		c.ManagementInterval = DefaultManagementInterval
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = DefaultAcceptTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
