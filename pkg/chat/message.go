// Package chat implements the websocket side-channel that carries non-media
// room control traffic: speaker admission requests and results, mute state,
// occupancy counts, and emoji reactions.
//
// The wire format is an outer JSON envelope with a numeric kind and a
// string-encoded JSON payload; within the payload, a further string-encoded
// body carries the actual event. Malformed frames are dropped silently.
package chat

import (
	"encoding/json"
)

// Envelope kinds.
const (
	KindChat    = 1 // reactions and chat traffic
	KindControl = 2 // admission, mute, occupancy
	KindAuth    = 3 // auth and room join frames
)

// Guest broadcasting event codes carried in control bodies.
const (
	EventSpeakerRequest  = 1
	EventSpeakerAccepted = 2
	EventSpeakerRemoved  = 3
	EventMuteOn          = 12
	EventMuteOff         = 16
)

// Chat body types carried in kind 1 frames.
const (
	chatTypeReaction = 2
)

// Envelope is the outer frame.
type Envelope struct {
	Kind    int    `json:"kind"`
	Payload string `json:"payload,omitempty"`
}

// payload is the middle layer; its Body field is another JSON string.
type payload struct {
	Room string `json:"room,omitempty"`
	Body string `json:"body,omitempty"`
}

// body carries the actual event fields. Control and chat frames share the
// struct; unused fields stay at their zero values.
type body struct {
	GuestBroadcastingEvent int    `json:"guestBroadcastingEvent,omitempty"`
	SessionUUID            string `json:"sessionUUID,omitempty"`
	GuestRemoteID          string `json:"guestRemoteID,omitempty"`
	GuestUsername          string `json:"guestUsername,omitempty"`
	Occupancy              *int   `json:"occupancy,omitempty"`
	TotalParticipants      *int   `json:"total_participants,omitempty"`
	Room                   string `json:"room,omitempty"`

	// Chat fields
	Type        int    `json:"type,omitempty"`
	Body        string `json:"body,omitempty"`
	DisplayName string `json:"displayName,omitempty"`

	// Auth fields
	AccessToken string `json:"access_token,omitempty"`
}

// OccupancyUpdate reports the room's listener/participant counts.
type OccupancyUpdate struct {
	Occupancy         int
	TotalParticipants int
}

// SpeakerRequest is a guest asking to speak.
type SpeakerRequest struct {
	UserID      string
	Username    string
	SessionUUID string
}

// SpeakerEvent is an admission result: a speaker accepted or removed.
type SpeakerEvent struct {
	UserID      string
	SessionUUID string
}

// MuteEvent reports a speaker's mute state change.
type MuteEvent struct {
	UserID string
	Muted  bool
}

// Reaction is a guest emoji reaction.
type Reaction struct {
	DisplayName string
	Emoji       string
}

// encodeFrame builds the doubly nested wire frame.
func encodeFrame(kind int, room string, b body) ([]byte, error) {
	inner, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	mid, err := json.Marshal(payload{Room: room, Body: string(inner)})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: kind, Payload: string(mid)})
}

// decodeFrame unwraps both string-encoded layers. A false return means the
// frame is malformed or carries no body.
func decodeFrame(data []byte) (Envelope, body, bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, body{}, false
	}
	if env.Payload == "" {
		return env, body{}, false
	}
	var mid payload
	if err := json.Unmarshal([]byte(env.Payload), &mid); err != nil {
		return env, body{}, false
	}
	if mid.Body == "" {
		return env, body{}, false
	}
	var b body
	if err := json.Unmarshal([]byte(mid.Body), &b); err != nil {
		return env, body{}, false
	}
	return env, b, true
}
