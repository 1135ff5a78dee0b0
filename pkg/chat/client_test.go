package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// chatServer is an in-process websocket endpoint that records inbound
// frames and lets tests push frames to the client.
type chatServer struct {
	t *testing.T

	mu       sync.Mutex
	conn     *websocket.Conn
	received [][]byte
	ready    chan struct{}
}

func newChatServer(t *testing.T) (*chatServer, string) {
	s := &chatServer{t: t, ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		close(s.ready)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, data)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (s *chatServer) push(t *testing.T, frame []byte) {
	t.Helper()
	select {
	case <-s.ready:
	case <-time.After(time.Second):
		t.Fatal("no client connected")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (s *chatServer) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.received...)
}

func newConnectedClient(t *testing.T) (*Client, *chatServer) {
	t.Helper()
	srv, url := newChatServer(t)
	c := NewClient(Config{
		Endpoint:    url,
		AccessToken: "token-1",
		RoomID:      "room-1",
		DisplayName: "hostbot",
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c, srv
}

func intp(v int) *int { return &v }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestConnectSendsAuthAndJoin(t *testing.T) {
	c, srv := newConnectedClient(t)
	_ = c

	waitFor(t, func() bool { return len(srv.frames()) >= 2 })

	frames := srv.frames()
	var auth Envelope
	if err := json.Unmarshal(frames[0], &auth); err != nil {
		t.Fatalf("auth frame: %v", err)
	}
	if auth.Kind != KindAuth {
		t.Errorf("expected first frame kind %d, got %d", KindAuth, auth.Kind)
	}
	if !strings.Contains(auth.Payload, "token-1") {
		t.Error("expected access token in auth payload")
	}

	var join Envelope
	if err := json.Unmarshal(frames[1], &join); err != nil {
		t.Fatalf("join frame: %v", err)
	}
	if join.Kind != KindControl || !strings.Contains(join.Payload, "room-1") {
		t.Errorf("unexpected join frame: %+v", join)
	}
}

func TestEventDispatch(t *testing.T) {
	mustFrame := func(kind int, b body) []byte {
		frame, err := encodeFrame(kind, "room-1", b)
		if err != nil {
			t.Fatalf("encodeFrame: %v", err)
		}
		return frame
	}

	t.Run("speaker request", func(t *testing.T) {
		c, srv := newConnectedClient(t)

		var mu sync.Mutex
		var got SpeakerRequest
		c.OnSpeakerRequest(func(r SpeakerRequest) {
			mu.Lock()
			got = r
			mu.Unlock()
		})

		srv.push(t, mustFrame(KindControl, body{
			GuestBroadcastingEvent: EventSpeakerRequest,
			GuestRemoteID:          "alice",
			GuestUsername:          "Alice",
			SessionUUID:            "s1",
		}))

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return got.SessionUUID == "s1"
		})
		mu.Lock()
		defer mu.Unlock()
		if got.UserID != "alice" || got.Username != "Alice" {
			t.Errorf("unexpected request: %+v", got)
		}
	})

	t.Run("accepted and removed", func(t *testing.T) {
		c, srv := newConnectedClient(t)

		var mu sync.Mutex
		var accepted, removed []SpeakerEvent
		c.OnSpeakerAccepted(func(e SpeakerEvent) {
			mu.Lock()
			accepted = append(accepted, e)
			mu.Unlock()
		})
		c.OnSpeakerRemoved(func(e SpeakerEvent) {
			mu.Lock()
			removed = append(removed, e)
			mu.Unlock()
		})

		srv.push(t, mustFrame(KindControl, body{GuestBroadcastingEvent: EventSpeakerAccepted, GuestRemoteID: "alice", SessionUUID: "s1"}))
		srv.push(t, mustFrame(KindControl, body{GuestBroadcastingEvent: EventSpeakerRemoved, GuestRemoteID: "alice", SessionUUID: "s1"}))

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(accepted) == 1 && len(removed) == 1
		})
	})

	t.Run("occupancy", func(t *testing.T) {
		c, srv := newConnectedClient(t)

		var mu sync.Mutex
		var got OccupancyUpdate
		c.OnOccupancy(func(u OccupancyUpdate) {
			mu.Lock()
			got = u
			mu.Unlock()
		})

		srv.push(t, mustFrame(KindControl, body{Occupancy: intp(7), TotalParticipants: intp(30)}))

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return got.Occupancy == 7 && got.TotalParticipants == 30
		})
	})

	// A room draining to zero is a real update, not an absent field.
	t.Run("occupancy zero", func(t *testing.T) {
		c, srv := newConnectedClient(t)

		var mu sync.Mutex
		fired := 0
		var got OccupancyUpdate
		c.OnOccupancy(func(u OccupancyUpdate) {
			mu.Lock()
			fired++
			got = u
			mu.Unlock()
		})

		srv.push(t, mustFrame(KindControl, body{Occupancy: intp(0), TotalParticipants: intp(0)}))

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return fired == 1
		})
		mu.Lock()
		defer mu.Unlock()
		if got.Occupancy != 0 || got.TotalParticipants != 0 {
			t.Errorf("update = %+v, want zeros", got)
		}
	})

	t.Run("mute state", func(t *testing.T) {
		c, srv := newConnectedClient(t)

		var mu sync.Mutex
		var events []MuteEvent
		c.OnMuteChanged(func(e MuteEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		})

		srv.push(t, mustFrame(KindControl, body{GuestBroadcastingEvent: EventMuteOn, GuestRemoteID: "bob"}))
		srv.push(t, mustFrame(KindControl, body{GuestBroadcastingEvent: EventMuteOff, GuestRemoteID: "bob"}))

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(events) == 2
		})
		mu.Lock()
		defer mu.Unlock()
		if !events[0].Muted || events[1].Muted {
			t.Errorf("unexpected mute sequence: %+v", events)
		}
	})

	t.Run("reaction", func(t *testing.T) {
		c, srv := newConnectedClient(t)

		var mu sync.Mutex
		var got Reaction
		c.OnReaction(func(r Reaction) {
			mu.Lock()
			got = r
			mu.Unlock()
		})

		srv.push(t, mustFrame(KindChat, body{Type: chatTypeReaction, Body: "🔥", DisplayName: "Carol"}))

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return got.Emoji == "🔥" && got.DisplayName == "Carol"
		})
	})

	t.Run("malformed frames are dropped", func(t *testing.T) {
		c, srv := newConnectedClient(t)

		var fired sync.WaitGroup
		fired.Add(1)
		c.OnSpeakerRequest(func(SpeakerRequest) { fired.Done() })

		srv.push(t, []byte("not json"))
		srv.push(t, []byte(`{"kind":2,"payload":"also not nested json"}`))
		srv.push(t, []byte(`{"kind":2,"payload":"{\"body\":\"{broken\"}"}`))

		// Follow with a valid frame to prove the loop survived.
		srv.push(t, mustFrame(KindControl, body{GuestBroadcastingEvent: EventSpeakerRequest, SessionUUID: "s9"}))

		done := make(chan struct{})
		go func() {
			fired.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("read loop did not survive malformed frames")
		}
	})
}

func TestReactWithEmoji(t *testing.T) {
	t.Run("sends a chat frame", func(t *testing.T) {
		c, srv := newConnectedClient(t)

		// Skip the auth/join frames.
		waitFor(t, func() bool { return len(srv.frames()) >= 2 })
		c.ReactWithEmoji("👏")

		waitFor(t, func() bool { return len(srv.frames()) >= 3 })
		frames := srv.frames()
		env, b, ok := decodeFrame(frames[2])
		if !ok {
			t.Fatal("reaction frame did not decode")
		}
		if env.Kind != KindChat || b.Body != "👏" || b.DisplayName != "hostbot" {
			t.Errorf("unexpected reaction frame: %+v %+v", env, b)
		}
	})

	t.Run("no-ops when disconnected", func(t *testing.T) {
		c := NewClient(Config{Endpoint: "ws://chat.invalid", RoomID: "room-1"})
		c.ReactWithEmoji("👏") // must not panic
	})
}

func TestDisconnectIdempotent(t *testing.T) {
	c, _ := newConnectedClient(t)
	c.Disconnect()
	c.Disconnect()
	if c.IsConnected() {
		t.Error("expected disconnected state")
	}
}
