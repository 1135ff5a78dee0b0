// Package janus implements the client side of a Janus-style media gateway:
// one long-polled signaling session, a publisher PeerConnection for outgoing
// room audio, and one subscriber PeerConnection per remote speaker feed.
//
// The gateway transport is fire-and-forget: POSTs are acknowledged
// immediately and the real outcome arrives later on the session long-poll.
// Event waiters (waiter.go) bridge that gap so that room join, attach and
// configure read like synchronous calls with deadlines.
package janus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-spaces/internal/httpc"
)

// Client owns one gateway session. Create with NewClient, then call
// InitializeAsHost or InitializeAsGuest exactly once.
type Client struct {
	cfg  Config
	log  *slog.Logger
	http *http.Client

	pollInterval time.Duration
	eventTimeout time.Duration

	waiterMu sync.Mutex
	waiters  []*eventWaiter

	mu          sync.Mutex
	initialized bool
	roomCreated bool
	session     Session
	pollCancel  context.CancelFunc
	pollDone    chan struct{}

	// One PeerConnection per attached handle, publisher included.
	pcMu sync.Mutex
	pcs  map[uint64]*webrtc.PeerConnection

	pub publisherMedia

	subMu sync.Mutex
	subs  map[string]*subscriber

	// Publisher advertisements seen so far, display name -> feed id.
	feedMu sync.Mutex
	feeds  map[string]uint64

	cbMu    sync.RWMutex
	onAudio func(AudioFrame)
	onError func(error)
}

// NewClient creates a signaling client for one room. The client is inert
// until one of the Initialize calls is made.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	eventTimeout := cfg.EventTimeout
	if eventTimeout == 0 {
		eventTimeout = DefaultEventTimeout
	}
	return &Client{
		cfg:          cfg,
		log:          cfg.Logger.With("component", "janus"),
		http:         httpc.NewClient(httpc.DefaultTimeout),
		pollInterval: pollInterval,
		eventTimeout: eventTimeout,
		pcs:          make(map[uint64]*webrtc.PeerConnection),
		subs:         make(map[string]*subscriber),
		feeds:        make(map[string]uint64),
	}
}

// OnAudioData sets the callback receiving decoded PCM from remote speakers.
// The callback runs on the per-track decode goroutine and must not block.
func (c *Client) OnAudioData(fn func(AudioFrame)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onAudio = fn
}

// OnError sets the callback for client-level errors (gateway error events,
// ICE failures). The orchestrator decides whether they are room-fatal.
func (c *Client) OnError(fn func(error)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onError = fn
}

// Session returns the current signaling identity.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// InitializeAsHost creates the gateway session, creates the room, and joins
// it as the publisher.
func (c *Client) InitializeAsHost(ctx context.Context) (*Session, error) {
	return c.initialize(ctx, true)
}

// InitializeAsGuest creates the gateway session and joins the existing room
// as a publisher, then subscribes to every publisher already present.
func (c *Client) InitializeAsGuest(ctx context.Context) (*Session, error) {
	return c.initialize(ctx, false)
}

func (c *Client) initialize(ctx context.Context, host bool) (*Session, error) {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil, ErrAlreadyInitialized
	}
	c.initialized = true
	c.mu.Unlock()

	sessionID, err := c.createSession(ctx)
	if err != nil {
		c.abortInitialize()
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.session.ID = sessionID
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})
	c.mu.Unlock()
	go c.pollLoop(pollCtx)

	handleID, err := c.attach(ctx)
	if err != nil {
		c.abortInitialize()
		return nil, err
	}
	c.mu.Lock()
	c.session.HandleID = handleID
	c.mu.Unlock()

	if host {
		if err := c.createRoom(ctx); err != nil {
			c.abortInitialize()
			return nil, err
		}
		c.mu.Lock()
		c.roomCreated = true
		c.mu.Unlock()
	}

	joined, err := c.joinAsPublisher(ctx)
	if err != nil {
		c.abortInitialize()
		return nil, err
	}

	if err := c.setupPublisher(ctx); err != nil {
		c.abortInitialize()
		return nil, err
	}

	// A guest catches up on everyone already on stage.
	if !host {
		for _, p := range joined.Publishers {
			if err := c.SubscribeSpeaker(ctx, p.Display, p.ID); err != nil {
				c.log.Warn("subscribe to existing publisher failed",
					"display", p.Display, "feed", p.ID, "error", err)
			}
		}
	}

	session := c.Session()
	c.log.Info("signaling session established",
		"session_id", session.ID,
		"handle_id", session.HandleID,
		"host", host,
	)
	return &session, nil
}

// abortInitialize unwinds a partially established session so the client can
// be initialized again: the poll loop is stopped, any publisher state is
// closed, and the identity is cleared.
func (c *Client) abortInitialize() {
	c.mu.Lock()
	cancel := c.pollCancel
	done := c.pollDone
	c.pollCancel = nil
	c.initialized = false
	c.roomCreated = false
	c.session = Session{}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.closePublisher()
}

// createSession allocates a gateway session id.
func (c *Client) createSession(ctx context.Context) (uint64, error) {
	ev, err := c.post(ctx, "", map[string]any{
		"janus":       "create",
		"transaction": uuid.NewString(),
	})
	if err != nil {
		return 0, err
	}
	if ev.Data == nil || ev.Data.ID == 0 {
		return 0, &ProtocolError{Op: "create session", Reason: "missing session id"}
	}
	return ev.Data.ID, nil
}

// attach creates a new plugin handle on the session and returns its id.
func (c *Client) attach(ctx context.Context) (uint64, error) {
	ev, err := c.post(ctx, fmt.Sprintf("/%d", c.Session().ID), map[string]any{
		"janus":       "attach",
		"plugin":      videoroomPlugin,
		"transaction": uuid.NewString(),
	})
	if err != nil {
		return 0, err
	}
	if ev.Data == nil || ev.Data.ID == 0 {
		return 0, &ProtocolError{Op: "attach", Reason: "missing handle id"}
	}
	return ev.Data.ID, nil
}

// createRoom asks the gateway to create the audio room. Host only.
func (c *Client) createRoom(ctx context.Context) error {
	w := c.addWaiter(func(ev *Event) bool {
		re, ok := ev.pluginEvent()
		return ok && re.VideoRoom == "created"
	})
	ev, err := c.message(ctx, c.Session().HandleID, map[string]any{
		"request":     "create",
		"room":        c.cfg.RoomID,
		"permanent":   false,
		"description": c.cfg.StreamName,
		"secret":      c.cfg.Credential,
		"audiocodec":  "opus",
	}, nil)
	if err != nil {
		c.removeWaiter(w)
		return err
	}
	if ev.Janus == "success" {
		c.removeWaiter(w)
		return nil
	}
	// Asynchronous ack: the created event arrives on the long poll.
	_, err = c.waitOn(ctx, "room created", c.eventTimeout, w)
	return err
}

// joinAsPublisher joins the room with ptype publisher and waits for the
// joined event, which also advertises the publishers already present.
// The waiter is registered before the request is sent: the joined event can
// arrive on a poll that is already in flight when the POST returns.
func (c *Client) joinAsPublisher(ctx context.Context) (*roomEvent, error) {
	handleID := c.Session().HandleID
	w := c.addWaiter(func(ev *Event) bool {
		if ev.Sender != handleID {
			return false
		}
		re, ok := ev.pluginEvent()
		return ok && re.VideoRoom == "joined"
	})
	if _, err := c.message(ctx, handleID, map[string]any{
		"request": "join",
		"room":    c.cfg.RoomID,
		"ptype":   "publisher",
		"display": c.cfg.UserID,
		"token":   c.cfg.Credential,
	}, nil); err != nil {
		c.removeWaiter(w)
		return nil, err
	}

	ev, err := c.waitOn(ctx, "room join", c.eventTimeout, w)
	if err != nil {
		return nil, err
	}
	re, _ := ev.pluginEvent()
	return re, nil
}

// SubscribeSpeaker attaches a dedicated subscriber handle for one remote
// speaker and wires its audio track into the OnAudioData callback.
// A feedID of zero is resolved from publisher advertisements by display
// name, waiting a bounded time for one to arrive if necessary.
func (c *Client) SubscribeSpeaker(ctx context.Context, userID string, feedID uint64) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.mu.Unlock()

	c.subMu.Lock()
	if _, ok := c.subs[userID]; ok {
		c.subMu.Unlock()
		c.log.Debug("already subscribed", "user_id", userID)
		return nil
	}
	c.subMu.Unlock()

	if feedID == 0 {
		resolved, err := c.resolveFeed(ctx, userID)
		if err != nil {
			return err
		}
		feedID = resolved
	}

	handleID, err := c.attach(ctx)
	if err != nil {
		return err
	}

	// The gateway offers, we answer. Register for the offer before joining
	// so a fast gateway cannot slip it past us on a concurrent poll.
	w := c.addWaiter(func(ev *Event) bool {
		return ev.Sender == handleID && ev.Jsep != nil && ev.Jsep.Type == "offer"
	})
	if _, err := c.message(ctx, handleID, map[string]any{
		"request": "join",
		"room":    c.cfg.RoomID,
		"ptype":   "subscriber",
		"feed":    feedID,
	}, nil); err != nil {
		c.removeWaiter(w)
		return err
	}

	offerEv, err := c.waitOn(ctx, "subscriber offer", c.eventTimeout, w)
	if err != nil {
		return err
	}

	sub, answer, err := c.newSubscriber(userID, feedID, handleID, offerEv.Jsep)
	if err != nil {
		return err
	}

	if _, err := c.message(ctx, handleID, map[string]any{
		"request": "start",
		"room":    c.cfg.RoomID,
	}, answer); err != nil {
		sub.close()
		return err
	}

	c.subMu.Lock()
	c.subs[userID] = sub
	c.subMu.Unlock()

	c.log.Info("subscribed to speaker", "user_id", userID, "feed", feedID)
	return nil
}

// UnsubscribeSpeaker tears down the subscriber connection for one speaker.
// No-op if no subscription exists.
func (c *Client) UnsubscribeSpeaker(userID string) {
	c.subMu.Lock()
	sub, ok := c.subs[userID]
	if ok {
		delete(c.subs, userID)
	}
	c.subMu.Unlock()
	if !ok {
		return
	}
	c.pcMu.Lock()
	delete(c.pcs, sub.handleID)
	c.pcMu.Unlock()
	sub.close()
	c.log.Info("unsubscribed from speaker", "user_id", userID)
}

// resolveFeed returns the feed id advertised for a display name, waiting a
// bounded time for a publishers advertisement if none has been seen yet.
func (c *Client) resolveFeed(ctx context.Context, userID string) (uint64, error) {
	c.feedMu.Lock()
	id, ok := c.feeds[userID]
	c.feedMu.Unlock()
	if ok {
		return id, nil
	}

	_, err := c.waitForEvent(ctx, "publisher advertisement", DefaultPublisherTimeout, func(ev *Event) bool {
		re, ok := ev.pluginEvent()
		if !ok {
			return false
		}
		for _, p := range re.Publishers {
			if p.Display == userID {
				return true
			}
		}
		return false
	})
	if err != nil {
		return 0, err
	}

	c.feedMu.Lock()
	id, ok = c.feeds[userID]
	c.feedMu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFeed, userID)
	}
	return id, nil
}

// DestroyRoom destroys the room on the gateway. Host only.
func (c *Client) DestroyRoom(ctx context.Context) error {
	c.mu.Lock()
	created := c.roomCreated
	c.mu.Unlock()
	if !created {
		return ErrNotInitialized
	}
	_, err := c.message(ctx, c.Session().HandleID, map[string]any{
		"request": "destroy",
		"room":    c.cfg.RoomID,
		"secret":  c.cfg.Credential,
	}, nil)
	return err
}

// LeaveRoom sends the explicit leave request on the publisher handle.
func (c *Client) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.mu.Unlock()
	_, err := c.message(ctx, c.Session().HandleID, map[string]any{
		"request": "leave",
	}, nil)
	return err
}

// Stop halts the poll loop and tears down every PeerConnection. It does not
// leave or destroy the room; that ordering belongs to the orchestrator.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.pollCancel
	done := c.pollDone
	c.pollCancel = nil
	c.initialized = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	c.subMu.Lock()
	for userID, sub := range c.subs {
		sub.close()
		delete(c.subs, userID)
	}
	c.subMu.Unlock()

	c.closePublisher()
	c.log.Info("signaling client stopped")
}

// post sends one JSON request to the gateway and decodes the response.
func (c *Client) post(ctx context.Context, path string, payload any) (*Event, error) {
	op := "request"
	if m, ok := payload.(map[string]any); ok {
		if j, ok := m["janus"].(string); ok {
			op = j
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GatewayURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, &ProtocolError{Op: op, Reason: "malformed response"}
	}
	if ev.Janus == "error" {
		pe := &ProtocolError{Op: op}
		if ev.Error != nil {
			pe.Code = ev.Error.Code
			pe.Reason = ev.Error.Reason
		}
		return nil, pe
	}
	return &ev, nil
}

// message sends a plugin message on a handle. Every request carries a fresh
// transaction id; asynchronous requests are acknowledged and resolve later
// through an event waiter.
func (c *Client) message(ctx context.Context, handleID uint64, body map[string]any, jsep *jsepData) (*Event, error) {
	payload := map[string]any{
		"janus":       "message",
		"transaction": uuid.NewString(),
		"body":        body,
	}
	if jsep != nil {
		payload["jsep"] = jsep
	}
	return c.post(ctx, fmt.Sprintf("/%d/%d", c.Session().ID, handleID), payload)
}

// pollLoop fetches the session's next event on a fixed cadence and
// dispatches it. The loop doubles as the gateway keepalive.
func (c *Client) pollLoop(ctx context.Context) {
	defer close(c.pollDone)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ev, err := c.fetchEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Debug("poll error", "error", err)
			continue
		}
		if ev != nil {
			c.handleEvent(ev)
		}
	}
}

// fetchEvent performs one long-poll GET. A nil event means the poll came
// back empty.
func (c *Client) fetchEvent(ctx context.Context) (*Event, error) {
	url := fmt.Sprintf("%s/%d?maxev=1&rid=%d", c.cfg.GatewayURL, c.Session().ID, time.Now().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Op: "poll", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "poll", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "poll", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "poll", Err: err}
	}
	if len(data) == 0 {
		return nil, nil
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, &ProtocolError{Op: "poll", Reason: "malformed event"}
	}
	if ev.Janus == "" {
		return nil, nil
	}
	return &ev, nil
}

// handleEvent dispatches one inbound event: keepalives are dropped, SDP
// answers are applied to the matching PeerConnection, gateway errors are
// surfaced on the error callback, and everything else is offered to the
// first matching waiter in registration order.
func (c *Client) handleEvent(ev *Event) {
	switch ev.Janus {
	case "keepalive":
		return
	case "error":
		pe := &ProtocolError{Op: "session"}
		if ev.Error != nil {
			pe.Code = ev.Error.Code
			pe.Reason = ev.Error.Reason
		}
		c.emitError(pe)
		return
	}

	if ev.Jsep != nil && ev.Jsep.Type == "answer" {
		c.applyRemoteAnswer(ev)
	}

	if re, ok := ev.pluginEvent(); ok {
		if len(re.Publishers) > 0 {
			c.recordPublishers(re.Publishers)
		}
		if re.ErrorCode != 0 {
			c.emitError(&ProtocolError{Op: "room event", Code: re.ErrorCode, Reason: re.Error})
		}
	}

	if !c.dispatchToWaiter(ev) {
		c.log.Debug("unmatched event dropped", "janus", ev.Janus, "sender", ev.Sender)
	}
}

// recordPublishers caches display name to feed id mappings from a
// publishers advertisement.
func (c *Client) recordPublishers(pubs []publisherInfo) {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	for _, p := range pubs {
		c.feeds[p.Display] = p.ID
	}
}

func (c *Client) emitError(err error) {
	c.cbMu.RLock()
	fn := c.onError
	c.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	} else {
		c.log.Warn("client error with no handler", "error", err)
	}
}

func (c *Client) emitAudio(frame AudioFrame) {
	c.cbMu.RLock()
	fn := c.onAudio
	c.cbMu.RUnlock()
	if fn != nil {
		fn(frame)
	}
}
