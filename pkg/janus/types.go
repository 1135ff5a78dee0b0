package janus

import (
	"encoding/json"
	"log/slog"
	"time"
)

const videoroomPlugin = "janus.plugin.videoroom"

// Default deadlines for request/event correlation.
const (
	DefaultEventTimeout     = 5 * time.Second
	DefaultPublisherTimeout = 8 * time.Second
	DefaultPollInterval     = 500 * time.Millisecond
)

// TurnServer describes one TURN relay supplied by the room host service.
type TurnServer struct {
	URI      string
	Username string
	Password string
}

// Config holds everything needed to establish one gateway session.
type Config struct {
	// GatewayURL is the media gateway base URL, e.g. "https://gw.example.com/janus".
	GatewayURL string

	// Credential is the room access token included in create/join requests.
	Credential string

	// RoomID is the remote room identifier.
	RoomID string

	// UserID identifies this participant; it doubles as the publisher display name.
	UserID string

	// StreamName labels the published stream.
	StreamName string

	// TurnServers are reused for the publisher and every subscriber PeerConnection.
	TurnServers []TurnServer

	// PollInterval overrides the long-poll cadence. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// EventTimeout overrides the per-step event deadline. Zero means DefaultEventTimeout.
	EventTimeout time.Duration

	Logger *slog.Logger
}

// Session is this process's signaling identity: one gateway session plus
// the publisher handle attached to it.
type Session struct {
	ID       uint64
	HandleID uint64
}

// AudioFrame is one chunk of decoded PCM from a remote speaker.
type AudioFrame struct {
	UserID     string
	SampleRate int
	Channels   int
	Samples    []int16
}

// Event is a single message from the gateway, either a direct POST response
// or one fetched by the long-poll loop.
type Event struct {
	Janus       string      `json:"janus"`
	Transaction string      `json:"transaction,omitempty"`
	SessionID   uint64      `json:"session_id,omitempty"`
	Sender      uint64      `json:"sender,omitempty"`
	Data        *eventData  `json:"data,omitempty"`
	PluginData  *pluginData `json:"plugindata,omitempty"`
	Jsep        *jsepData   `json:"jsep,omitempty"`
	Error       *apiError   `json:"error,omitempty"`
}

type eventData struct {
	ID uint64 `json:"id"`
}

type pluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

type jsepData struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type apiError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// roomEvent is the videoroom plugin payload carried inside plugindata.
type roomEvent struct {
	VideoRoom  string          `json:"videoroom"`
	Room       json.RawMessage `json:"room,omitempty"`
	ID         uint64          `json:"id,omitempty"`
	Configured string          `json:"configured,omitempty"`
	Started    string          `json:"started,omitempty"`
	Left       string          `json:"left,omitempty"`
	ErrorCode  int             `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	Publishers []publisherInfo `json:"publishers,omitempty"`
}

// publisherInfo is one entry of a "publishers" advertisement.
type publisherInfo struct {
	ID      uint64 `json:"id"`
	Display string `json:"display"`
}

// pluginEvent decodes the videoroom payload of an event, if present.
func (e *Event) pluginEvent() (*roomEvent, bool) {
	if e.PluginData == nil || e.PluginData.Plugin != videoroomPlugin {
		return nil, false
	}
	var re roomEvent
	if err := json.Unmarshal(e.PluginData.Data, &re); err != nil {
		return nil, false
	}
	return &re, true
}
