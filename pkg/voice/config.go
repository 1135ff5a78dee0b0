package voice

import (
	"log/slog"
	"time"
)

// Defaults for the pipeline's segmentation and playback behavior.
const (
	// DefaultSilenceGap is how long a speaker must stay quiet before their
	// buffered audio is finalized into one utterance.
	DefaultSilenceGap = time.Second

	// DefaultSilenceFloor is the mean absolute amplitude below which a
	// frame is treated as silence and discarded.
	DefaultSilenceFloor = 50.0

	// DefaultBargeInThreshold is the rolling-window mean amplitude above
	// which live speech aborts an active playback.
	DefaultBargeInThreshold = 1000.0

	// DefaultBargeInWindow is how many recent frames the rolling window
	// averages over.
	DefaultBargeInWindow = 10

	// DefaultFrameDuration is the playback pacing unit.
	DefaultFrameDuration = 10 * time.Millisecond

	// DefaultOutputSampleRate matches the room's Opus publish rate.
	DefaultOutputSampleRate = 48000

	// DefaultQueueSize bounds the pending reply queue.
	DefaultQueueSize = 64
)

// Config controls utterance segmentation, barge-in sensitivity, and
// playback pacing.
type Config struct {
	SilenceGap       time.Duration
	SilenceFloor     float64
	BargeInThreshold float64
	BargeInWindow    int
	FrameDuration    time.Duration
	OutputSampleRate int
	QueueSize        int
	Logger           *slog.Logger
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		SilenceGap:       DefaultSilenceGap,
		SilenceFloor:     DefaultSilenceFloor,
		BargeInThreshold: DefaultBargeInThreshold,
		BargeInWindow:    DefaultBargeInWindow,
		FrameDuration:    DefaultFrameDuration,
		OutputSampleRate: DefaultOutputSampleRate,
		QueueSize:        DefaultQueueSize,
	}
}

// Option modifies a Config.
type Option func(*Config)

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithSilenceGap sets the utterance finalization gap.
func WithSilenceGap(d time.Duration) Option {
	return func(c *Config) { c.SilenceGap = d }
}

// WithSilenceFloor sets the silence discard threshold.
func WithSilenceFloor(v float64) Option {
	return func(c *Config) { c.SilenceFloor = v }
}

// WithBargeInThreshold sets the barge-in amplitude threshold.
func WithBargeInThreshold(v float64) Option {
	return func(c *Config) { c.BargeInThreshold = v }
}

// WithFrameDuration sets the playback pacing unit.
func WithFrameDuration(d time.Duration) Option {
	return func(c *Config) { c.FrameDuration = d }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
