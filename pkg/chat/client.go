package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when a call needs an open control channel.
var ErrNotConnected = errors.New("chat: not connected")

const defaultHandshakeTimeout = 10 * time.Second

// Config holds the control channel endpoint and identity.
type Config struct {
	// Endpoint is the chat websocket URL.
	Endpoint string

	// AccessToken authenticates the connection.
	AccessToken string

	// RoomID is the room to join after authenticating.
	RoomID string

	// DisplayName labels outgoing reactions.
	DisplayName string

	Logger *slog.Logger
}

// Client is the websocket control channel for one room. Media never flows
// here; only admission, mute, occupancy and reaction traffic.
type Client struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	done      chan struct{}

	cbMu              sync.RWMutex
	onOccupancy       func(OccupancyUpdate)
	onSpeakerRequest  func(SpeakerRequest)
	onSpeakerAccepted func(SpeakerEvent)
	onSpeakerRemoved  func(SpeakerEvent)
	onMuteChanged     func(MuteEvent)
	onReaction        func(Reaction)
}

// NewClient creates a control channel client. Call Connect to open it.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		log: cfg.Logger.With("component", "chat"),
	}
}

// OnOccupancy sets the occupancy update callback.
func (c *Client) OnOccupancy(fn func(OccupancyUpdate)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onOccupancy = fn
}

// OnSpeakerRequest sets the speaker request callback.
func (c *Client) OnSpeakerRequest(fn func(SpeakerRequest)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onSpeakerRequest = fn
}

// OnSpeakerAccepted sets the admission accepted callback.
func (c *Client) OnSpeakerAccepted(fn func(SpeakerEvent)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onSpeakerAccepted = fn
}

// OnSpeakerRemoved sets the speaker removed callback.
func (c *Client) OnSpeakerRemoved(fn func(SpeakerEvent)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onSpeakerRemoved = fn
}

// OnMuteChanged sets the mute state callback.
func (c *Client) OnMuteChanged(fn func(MuteEvent)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onMuteChanged = fn
}

// OnReaction sets the guest reaction callback.
func (c *Client) OnReaction(fn func(Reaction)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onReaction = fn
}

// Connect opens the websocket, authenticates, and joins the room.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		return err
	}

	auth, err := encodeFrame(KindAuth, "", body{AccessToken: c.cfg.AccessToken})
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, auth)
	}
	if err != nil {
		conn.Close()
		return err
	}

	join, err := encodeFrame(KindControl, c.cfg.RoomID, body{Room: c.cfg.RoomID})
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, join)
	}
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn)

	c.log.Info("control channel connected", "room", c.cfg.RoomID)
	return nil
}

// IsConnected reports whether the channel is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ReactWithEmoji sends a fire-and-forget emoji reaction. Disconnected
// clients warn and return without error.
func (c *Client) ReactWithEmoji(emoji string) {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.log.Warn("reaction dropped: control channel not connected", "emoji", emoji)
		return
	}

	frame, err := encodeFrame(KindChat, c.cfg.RoomID, body{
		Type:        chatTypeReaction,
		Body:        emoji,
		DisplayName: c.cfg.DisplayName,
	})
	if err != nil {
		c.log.Warn("reaction encode failed", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.log.Warn("reaction send failed", "error", err)
	}
}

// Disconnect closes the channel. Safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	conn.Close()
	if done != nil {
		<-done
	}
	c.log.Info("control channel disconnected")
}

// readLoop consumes frames until the connection closes. Closing the socket
// unblocks the read.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.connected = false
		}
		done := c.done
		c.done = nil
		c.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("control channel closed")
			} else {
				c.log.Debug("control channel read ended", "error", err)
			}
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame decodes one inbound frame and dispatches it. Malformed frames
// are debug-logged and dropped, never fatal.
func (c *Client) handleFrame(data []byte) {
	env, b, ok := decodeFrame(data)
	if !ok {
		c.log.Debug("malformed control frame dropped", "len", len(data))
		return
	}

	switch env.Kind {
	case KindChat:
		if b.Type == chatTypeReaction && b.Body != "" {
			c.emitReaction(Reaction{DisplayName: b.DisplayName, Emoji: b.Body})
		}

	case KindControl:
		switch b.GuestBroadcastingEvent {
		case EventSpeakerRequest:
			c.emitSpeakerRequest(SpeakerRequest{
				UserID:      b.GuestRemoteID,
				Username:    b.GuestUsername,
				SessionUUID: b.SessionUUID,
			})
		case EventSpeakerAccepted:
			c.emitSpeakerAccepted(SpeakerEvent{UserID: b.GuestRemoteID, SessionUUID: b.SessionUUID})
		case EventSpeakerRemoved:
			c.emitSpeakerRemoved(SpeakerEvent{UserID: b.GuestRemoteID, SessionUUID: b.SessionUUID})
		case EventMuteOn:
			c.emitMuteChanged(MuteEvent{UserID: b.GuestRemoteID, Muted: true})
		case EventMuteOff:
			c.emitMuteChanged(MuteEvent{UserID: b.GuestRemoteID, Muted: false})
		default:
			// Presence of either key makes this an occupancy frame; a
			// legitimate count can be zero.
			if b.Occupancy != nil || b.TotalParticipants != nil {
				var u OccupancyUpdate
				if b.Occupancy != nil {
					u.Occupancy = *b.Occupancy
				}
				if b.TotalParticipants != nil {
					u.TotalParticipants = *b.TotalParticipants
				}
				c.emitOccupancy(u)
			}
		}

	default:
		c.log.Debug("unhandled frame kind", "kind", env.Kind)
	}
}

func (c *Client) emitOccupancy(u OccupancyUpdate) {
	c.cbMu.RLock()
	fn := c.onOccupancy
	c.cbMu.RUnlock()
	if fn != nil {
		fn(u)
	}
}

func (c *Client) emitSpeakerRequest(r SpeakerRequest) {
	c.cbMu.RLock()
	fn := c.onSpeakerRequest
	c.cbMu.RUnlock()
	if fn != nil {
		fn(r)
	}
}

func (c *Client) emitSpeakerAccepted(e SpeakerEvent) {
	c.cbMu.RLock()
	fn := c.onSpeakerAccepted
	c.cbMu.RUnlock()
	if fn != nil {
		fn(e)
	}
}

func (c *Client) emitSpeakerRemoved(e SpeakerEvent) {
	c.cbMu.RLock()
	fn := c.onSpeakerRemoved
	c.cbMu.RUnlock()
	if fn != nil {
		fn(e)
	}
}

func (c *Client) emitMuteChanged(e MuteEvent) {
	c.cbMu.RLock()
	fn := c.onMuteChanged
	c.cbMu.RUnlock()
	if fn != nil {
		fn(e)
	}
}

func (c *Client) emitReaction(r Reaction) {
	c.cbMu.RLock()
	fn := c.onReaction
	c.cbMu.RUnlock()
	if fn != nil {
		fn(r)
	}
}
