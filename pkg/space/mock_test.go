package space

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-spaces/pkg/chat"
	"github.com/teslashibe/go-spaces/pkg/janus"
)

type mockSignaler struct {
	mu           sync.Mutex
	initHost     int
	initGuest    int
	subscribed   []string
	unsubscribed []string
	destroyed    int
	left         int
	stopped      int
	subscribeErr error
	audioFn      func(janus.AudioFrame)
}

func (m *mockSignaler) InitializeAsHost(ctx context.Context) (*janus.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initHost++
	return &janus.Session{ID: 1, HandleID: 2}, nil
}

func (m *mockSignaler) InitializeAsGuest(ctx context.Context) (*janus.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initGuest++
	return &janus.Session{ID: 1, HandleID: 2}, nil
}

func (m *mockSignaler) SubscribeSpeaker(ctx context.Context, userID string, feedID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.subscribed = append(m.subscribed, userID)
	return nil
}

func (m *mockSignaler) UnsubscribeSpeaker(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, userID)
}

func (m *mockSignaler) PushLocalAudio(samples []int16, sampleRate, channels int) error { return nil }

func (m *mockSignaler) DestroyRoom(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed++
	return nil
}

func (m *mockSignaler) LeaveRoom(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left++
	return nil
}

func (m *mockSignaler) OnAudioData(fn func(janus.AudioFrame)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioFn = fn
}

func (m *mockSignaler) OnError(fn func(error)) {}

func (m *mockSignaler) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

func (m *mockSignaler) subscribeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.subscribed))
	copy(out, m.subscribed)
	return out
}

func (m *mockSignaler) counts() (host, guest, destroyed, left, stopped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initHost, m.initGuest, m.destroyed, m.left, m.stopped
}

type mockControl struct {
	mu          sync.Mutex
	connected   bool
	disconnects int
	reactions   []string
	onOccupancy func(chat.OccupancyUpdate)
	onRequest   func(chat.SpeakerRequest)
	onAccepted  func(chat.SpeakerEvent)
	onRemoved   func(chat.SpeakerEvent)
	onMute      func(chat.MuteEvent)
	onReaction  func(chat.Reaction)

	// connectHook runs inside Connect, after the callbacks are wired but
	// before the caller regains control.
	connectHook func()
}

func (m *mockControl) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = true
	hook := m.connectHook
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (m *mockControl) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconnects++
}

func (m *mockControl) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockControl) ReactWithEmoji(emoji string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, emoji)
}

func (m *mockControl) OnOccupancy(fn func(chat.OccupancyUpdate))     { m.onOccupancy = fn }
func (m *mockControl) OnSpeakerRequest(fn func(chat.SpeakerRequest)) { m.onRequest = fn }
func (m *mockControl) OnSpeakerAccepted(fn func(chat.SpeakerEvent))  { m.onAccepted = fn }
func (m *mockControl) OnSpeakerRemoved(fn func(chat.SpeakerEvent))   { m.onRemoved = fn }
func (m *mockControl) OnMuteChanged(fn func(chat.MuteEvent))         { m.onMute = fn }
func (m *mockControl) OnReaction(fn func(chat.Reaction))             { m.onReaction = fn }

func (m *mockControl) fireRequest(userID, sessionUUID string) {
	if m.onRequest != nil {
		m.onRequest(chat.SpeakerRequest{UserID: userID, Username: userID, SessionUUID: sessionUUID})
	}
}

func (m *mockControl) fireAccepted(userID, sessionUUID string) {
	if m.onAccepted != nil {
		m.onAccepted(chat.SpeakerEvent{UserID: userID, SessionUUID: sessionUUID})
	}
}

func (m *mockControl) fireRemoved(userID, sessionUUID string) {
	if m.onRemoved != nil {
		m.onRemoved(chat.SpeakerEvent{UserID: userID, SessionUUID: sessionUUID})
	}
}

func (m *mockControl) fireOccupancy(occupancy, total int) {
	if m.onOccupancy != nil {
		m.onOccupancy(chat.OccupancyUpdate{Occupancy: occupancy, TotalParticipants: total})
	}
}

type mockAdmin struct {
	mu          sync.Mutex
	approved    []string
	removed     []string
	cancelled   []string
	ended       int
	sessionUUID string
	approveErr  error
	requestErr  error
}

func (m *mockAdmin) ApproveSpeaker(ctx context.Context, userID, sessionUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.approveErr != nil {
		return m.approveErr
	}
	m.approved = append(m.approved, sessionUUID)
	return nil
}

func (m *mockAdmin) RemoveSpeaker(ctx context.Context, userID, sessionUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, sessionUUID)
	return nil
}

func (m *mockAdmin) EndSpace(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended++
	return nil
}

func (m *mockAdmin) RequestSpeaker(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requestErr != nil {
		return "", m.requestErr
	}
	return m.sessionUUID, nil
}

func (m *mockAdmin) CancelSpeakerRequest(ctx context.Context, sessionUUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, sessionUUID)
	return nil
}

func (m *mockAdmin) approvedCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.approved))
	copy(out, m.approved)
	return out
}

func (m *mockAdmin) cancelledCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cancelled))
	copy(out, m.cancelled)
	return out
}

func (m *mockAdmin) endedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
