// Package idle watches a room's aggregate audio activity and signals when
// nothing has been heard for longer than a configured threshold.
package idle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultThreshold is how long a room can stay silent before it is
// considered idle.
const DefaultThreshold = 60 * time.Second

// Monitor emits an idle signal whenever a scheduled check finds the elapsed
// time since the last activity above the threshold. It keeps firing on
// every subsequent check while the silence persists; callers that want one
// event per episode can latch it themselves.
type Monitor struct {
	threshold time.Duration
	interval  time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	lastSeen time.Time
	cancel   context.CancelFunc
	done     chan struct{}

	cbMu   sync.RWMutex
	onIdle func(silence time.Duration)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithCheckInterval overrides the check cadence. The default is the
// threshold itself.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithLogger sets the monitor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// New creates a monitor with the given silence threshold. A non-positive
// threshold falls back to DefaultThreshold.
func New(threshold time.Duration, opts ...Option) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &Monitor{threshold: threshold}
	for _, opt := range opts {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = m.threshold
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "idle")
	return m
}

// OnIdle sets the callback fired when a check crosses the threshold. The
// argument is how long the room has been silent.
func (m *Monitor) OnIdle(fn func(silence time.Duration)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onIdle = fn
}

// Touch records audio activity, resetting the silence clock. Call it for
// both outgoing playback and any remote speaker's frames.
func (m *Monitor) Touch() {
	m.mu.Lock()
	m.lastSeen = time.Now()
	m.mu.Unlock()
}

// Init starts the periodic check. The clock starts from now, so an empty
// room still has one full threshold before the first signal.
func (m *Monitor) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	m.lastSeen = time.Now()
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx)
	return nil
}

// Cleanup stops the periodic check.
func (m *Monitor) Cleanup() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	m.mu.Lock()
	silence := time.Since(m.lastSeen)
	m.mu.Unlock()
	if silence < m.threshold {
		return
	}

	m.log.Info("room idle", "silence", silence)
	m.cbMu.RLock()
	fn := m.onIdle
	m.cbMu.RUnlock()
	if fn != nil {
		fn(silence)
	}
}
