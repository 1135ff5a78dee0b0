package space

import (
	"context"

	"github.com/teslashibe/go-spaces/pkg/chat"
	"github.com/teslashibe/go-spaces/pkg/janus"
)

// Plugin is an auxiliary capability attached to a space: initialized after
// the media session is up, cleaned up during teardown.
type Plugin interface {
	Init(ctx context.Context) error
	Cleanup()
}

// AudioConsumer is implemented by plugins that want the room's decoded
// audio. Frames arrive from the signaling client's decode goroutines and
// handlers must not block.
type AudioConsumer interface {
	OnAudioData(frame janus.AudioFrame)
}

// Signaler is the media signaling surface an orchestrator drives. It is
// satisfied by *janus.Client.
type Signaler interface {
	InitializeAsHost(ctx context.Context) (*janus.Session, error)
	InitializeAsGuest(ctx context.Context) (*janus.Session, error)
	SubscribeSpeaker(ctx context.Context, userID string, feedID uint64) error
	UnsubscribeSpeaker(userID string)
	PushLocalAudio(samples []int16, sampleRate, channels int) error
	DestroyRoom(ctx context.Context) error
	LeaveRoom(ctx context.Context) error
	OnAudioData(fn func(janus.AudioFrame))
	OnError(fn func(error))
	Stop()
}

// ControlChannel is the room control side-channel. It is satisfied by
// *chat.Client.
type ControlChannel interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	ReactWithEmoji(emoji string)
	OnOccupancy(fn func(chat.OccupancyUpdate))
	OnSpeakerRequest(fn func(chat.SpeakerRequest))
	OnSpeakerAccepted(fn func(chat.SpeakerEvent))
	OnSpeakerRemoved(fn func(chat.SpeakerEvent))
	OnMuteChanged(fn func(chat.MuteEvent))
	OnReaction(fn func(chat.Reaction))
}

// Admin is the room's management REST surface. It is satisfied by
// *AdminClient.
type Admin interface {
	ApproveSpeaker(ctx context.Context, userID, sessionUUID string) error
	RemoveSpeaker(ctx context.Context, userID, sessionUUID string) error
	EndSpace(ctx context.Context) error
	RequestSpeaker(ctx context.Context, userID string) (string, error)
	CancelSpeakerRequest(ctx context.Context, sessionUUID string) error
}
