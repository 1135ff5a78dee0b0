package idle

import (
	"context"
	"sync"
	"testing"
	"time"
)

type idleRecorder struct {
	mu    sync.Mutex
	fires []time.Duration
}

func (r *idleRecorder) record(silence time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fires = append(r.fires, silence)
}

func (r *idleRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fires)
}

func TestIdleFires(t *testing.T) {
	rec := &idleRecorder{}
	m := New(30*time.Millisecond, WithCheckInterval(10*time.Millisecond))
	m.OnIdle(rec.record)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer m.Cleanup()

	deadline := time.Now().Add(time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() == 0 {
		t.Fatal("idle never fired")
	}

	rec.mu.Lock()
	silence := rec.fires[0]
	rec.mu.Unlock()
	if silence < 30*time.Millisecond {
		t.Fatalf("fired at %v silence, below threshold", silence)
	}
}

// The monitor keeps firing on every check while the silence persists; it
// does not latch per episode.
func TestIdleRefiresEveryCheck(t *testing.T) {
	rec := &idleRecorder{}
	m := New(20*time.Millisecond, WithCheckInterval(10*time.Millisecond))
	m.OnIdle(rec.record)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer m.Cleanup()

	time.Sleep(120 * time.Millisecond)
	if n := rec.count(); n < 2 {
		t.Fatalf("fired %d times across persistent silence, want repeated fires", n)
	}
}

func TestTouchResetsClock(t *testing.T) {
	rec := &idleRecorder{}
	m := New(60*time.Millisecond, WithCheckInterval(15*time.Millisecond))
	m.OnIdle(rec.record)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer m.Cleanup()

	// Keep touching for a stretch longer than the threshold.
	stop := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(stop) {
		m.Touch()
		time.Sleep(10 * time.Millisecond)
	}
	if n := rec.count(); n != 0 {
		t.Fatalf("fired %d times despite continuous activity", n)
	}
}

func TestCleanupStops(t *testing.T) {
	rec := &idleRecorder{}
	m := New(10*time.Millisecond, WithCheckInterval(5*time.Millisecond))
	m.OnIdle(rec.record)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	m.Cleanup()

	n := rec.count()
	time.Sleep(50 * time.Millisecond)
	if rec.count() != n {
		t.Fatal("monitor kept firing after Cleanup")
	}

	// Cleanup is idempotent.
	m.Cleanup()
}
