package janus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeGateway is a minimal in-process media gateway: it answers session
// create and handle attach synchronously and serves queued events on the
// long-poll endpoint.
type fakeGateway struct {
	t *testing.T

	mu           sync.Mutex
	events       []json.RawMessage
	messages     []map[string]any
	failAttach   bool
	messageDelay time.Duration

	sessionID uint64
	handleSeq uint64
}

func newFakeGateway(t *testing.T) (*fakeGateway, *httptest.Server) {
	g := &fakeGateway{t: t, sessionID: 1111, handleSeq: 2000}
	srv := httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(srv.Close)
	return g, srv
}

func (g *fakeGateway) queueEvent(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.t.Fatalf("queueEvent: %v", err)
	}
	g.mu.Lock()
	g.events = append(g.events, data)
	g.mu.Unlock()
}

func (g *fakeGateway) setFailAttach(fail bool) {
	g.mu.Lock()
	g.failAttach = fail
	g.mu.Unlock()
}

func (g *fakeGateway) setMessageDelay(d time.Duration) {
	g.mu.Lock()
	g.messageDelay = d
	g.mu.Unlock()
}

func (g *fakeGateway) sentMessages() []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]map[string]any(nil), g.messages...)
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		g.mu.Lock()
		var next json.RawMessage
		if len(g.events) > 0 {
			next = g.events[0]
			g.events = g.events[1:]
		}
		g.mu.Unlock()
		if next == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write(next)
		return
	}

	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch req["janus"] {
	case "create":
		json.NewEncoder(w).Encode(map[string]any{
			"janus": "success",
			"data":  map[string]any{"id": g.sessionID},
		})
	case "attach":
		g.mu.Lock()
		fail := g.failAttach
		g.handleSeq++
		id := g.handleSeq
		g.mu.Unlock()
		if fail {
			json.NewEncoder(w).Encode(map[string]any{
				"janus": "error",
				"error": map[string]any{"code": 460, "reason": "plugin unavailable"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"janus": "success",
			"data":  map[string]any{"id": id},
		})
	case "message":
		g.mu.Lock()
		g.messages = append(g.messages, req)
		delay := g.messageDelay
		g.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		body, _ := req["body"].(map[string]any)
		if body["request"] == "create" {
			json.NewEncoder(w).Encode(map[string]any{
				"janus":      "success",
				"plugindata": map[string]any{"plugin": "janus.plugin.videoroom", "data": map[string]any{"videoroom": "created"}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"janus": "ack"})
	default:
		json.NewEncoder(w).Encode(map[string]any{
			"janus": "error",
			"error": map[string]any{"code": 457, "reason": "unknown request"},
		})
	}
}

func newGatewayClient(srv *httptest.Server) *Client {
	return NewClient(Config{
		GatewayURL:   srv.URL,
		RoomID:       "room-1",
		UserID:       "host",
		StreamName:   "test space",
		Credential:   "secret",
		PollInterval: 10 * time.Millisecond,
		EventTimeout: 500 * time.Millisecond,
	})
}

func TestCreateSessionAndAttach(t *testing.T) {
	_, srv := newFakeGateway(t)
	c := newGatewayClient(srv)
	ctx := context.Background()

	sid, err := c.createSession(ctx)
	if err != nil {
		t.Fatalf("createSession: %v", err)
	}
	if sid != 1111 {
		t.Errorf("expected session 1111, got %d", sid)
	}
	c.session.ID = sid

	hid, err := c.attach(ctx)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if hid == 0 {
		t.Error("expected non-zero handle id")
	}
}

func TestCreateRoom(t *testing.T) {
	g, srv := newFakeGateway(t)
	c := newGatewayClient(srv)
	c.session = Session{ID: 1111, HandleID: 2001}

	if err := c.createRoom(context.Background()); err != nil {
		t.Fatalf("createRoom: %v", err)
	}

	msgs := g.sentMessages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	body := msgs[0]["body"].(map[string]any)
	if body["request"] != "create" || body["room"] != "room-1" || body["audiocodec"] != "opus" {
		t.Errorf("unexpected create body: %v", body)
	}
	if msgs[0]["transaction"] == "" {
		t.Error("expected a transaction id on the request")
	}
}

func TestJoinAsPublisher(t *testing.T) {
	g, srv := newFakeGateway(t)
	c := newGatewayClient(srv)
	c.session = Session{ID: 1111, HandleID: 2001}

	pollCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.pollDone = make(chan struct{})
	go c.pollLoop(pollCtx)

	g.queueEvent(map[string]any{
		"janus":  "event",
		"sender": 2001,
		"plugindata": map[string]any{
			"plugin": "janus.plugin.videoroom",
			"data": map[string]any{
				"videoroom": "joined",
				"id":        999,
				"publishers": []map[string]any{
					{"id": 501, "display": "alice"},
				},
			},
		},
	})

	re, err := c.joinAsPublisher(context.Background())
	if err != nil {
		t.Fatalf("joinAsPublisher: %v", err)
	}
	if len(re.Publishers) != 1 || re.Publishers[0].Display != "alice" {
		t.Errorf("expected alice in the publisher list, got %+v", re.Publishers)
	}

	// The advertisement must also have landed in the feed cache.
	c.feedMu.Lock()
	feed := c.feeds["alice"]
	c.feedMu.Unlock()
	if feed != 501 {
		t.Errorf("expected cached feed 501 for alice, got %d", feed)
	}
}

// A joined event fetched by the poll loop while the join request is still
// in flight must still resolve the call.
func TestJoinEventArrivesDuringRequest(t *testing.T) {
	g, srv := newFakeGateway(t)
	g.setMessageDelay(60 * time.Millisecond)
	c := newGatewayClient(srv)
	c.session = Session{ID: 1111, HandleID: 2001}

	pollCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.pollDone = make(chan struct{})
	go c.pollLoop(pollCtx)

	g.queueEvent(map[string]any{
		"janus":  "event",
		"sender": 2001,
		"plugindata": map[string]any{
			"plugin": "janus.plugin.videoroom",
			"data":   map[string]any{"videoroom": "joined", "id": 999},
		},
	})

	re, err := c.joinAsPublisher(context.Background())
	if err != nil {
		t.Fatalf("joinAsPublisher: %v", err)
	}
	if re.VideoRoom != "joined" {
		t.Errorf("expected joined event, got %+v", re)
	}
}

func TestInitializeFailureAllowsRetry(t *testing.T) {
	g, srv := newFakeGateway(t)
	g.setFailAttach(true)
	c := newGatewayClient(srv)

	if _, err := c.InitializeAsHost(context.Background()); err == nil {
		t.Fatal("expected initialize to fail on attach")
	}

	// The failed attempt must leave no poll loop behind.
	c.mu.Lock()
	done := c.pollDone
	initialized := c.initialized
	c.mu.Unlock()
	if initialized {
		t.Error("client still marked initialized after failure")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll loop still running after failed initialize")
	}

	// A second attempt is admitted rather than rejected as a duplicate.
	_, err := c.InitializeAsHost(context.Background())
	if errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("retry rejected: %v", err)
	}
}

func TestResolveFeed(t *testing.T) {
	t.Run("cached feed resolves immediately", func(t *testing.T) {
		_, srv := newFakeGateway(t)
		c := newGatewayClient(srv)
		c.feeds["bob"] = 777

		id, err := c.resolveFeed(context.Background(), "bob")
		if err != nil {
			t.Fatalf("resolveFeed: %v", err)
		}
		if id != 777 {
			t.Errorf("expected feed 777, got %d", id)
		}
	})

	t.Run("unknown feed waits for an advertisement", func(t *testing.T) {
		_, srv := newFakeGateway(t)
		c := newGatewayClient(srv)

		go func() {
			time.Sleep(20 * time.Millisecond)
			c.handleEvent(&Event{
				Janus:  "event",
				Sender: 2001,
				PluginData: &pluginData{
					Plugin: videoroomPlugin,
					Data:   json.RawMessage(`{"videoroom":"event","publishers":[{"id":888,"display":"carol"}]}`),
				},
			})
		}()

		id, err := c.resolveFeed(context.Background(), "carol")
		if err != nil {
			t.Fatalf("resolveFeed: %v", err)
		}
		if id != 888 {
			t.Errorf("expected feed 888, got %d", id)
		}
	})
}

func TestHandleEvent(t *testing.T) {
	t.Run("keepalive is ignored", func(t *testing.T) {
		_, srv := newFakeGateway(t)
		c := newGatewayClient(srv)
		w := c.addWaiter(func(ev *Event) bool { return true })

		c.handleEvent(&Event{Janus: "keepalive"})
		if w.resolved {
			t.Error("keepalive must not resolve waiters")
		}
	})

	t.Run("gateway error reaches the error callback", func(t *testing.T) {
		_, srv := newFakeGateway(t)
		c := newGatewayClient(srv)

		var got error
		c.OnError(func(err error) { got = err })
		c.handleEvent(&Event{Janus: "error", Error: &apiError{Code: 458, Reason: "no such session"}})

		var pe *ProtocolError
		if !errors.As(got, &pe) {
			t.Fatalf("expected ProtocolError, got %v", got)
		}
		if pe.Code != 458 || !strings.Contains(pe.Reason, "no such session") {
			t.Errorf("unexpected error detail: %v", pe)
		}
	})
}

func TestPostErrors(t *testing.T) {
	t.Run("error response becomes ProtocolError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"janus": "error",
				"error": map[string]any{"code": 403, "reason": "unauthorized"},
			})
		}))
		defer srv.Close()

		c := newGatewayClient(srv)
		_, err := c.createSession(context.Background())
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			t.Fatalf("expected ProtocolError, got %v", err)
		}
		if pe.Code != 403 {
			t.Errorf("expected code 403, got %d", pe.Code)
		}
	})

	t.Run("unreachable gateway becomes TransportError", func(t *testing.T) {
		c := NewClient(Config{GatewayURL: "http://127.0.0.1:1/janus"})
		_, err := c.createSession(context.Background())
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransportError, got %v", err)
		}
	})

	t.Run("non-200 status becomes TransportError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := newGatewayClient(srv)
		_, err := c.createSession(context.Background())
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransportError, got %v", err)
		}
	})
}
