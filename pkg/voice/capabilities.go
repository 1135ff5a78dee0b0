// Package voice drives the speech turn-taking loop for a live audio room:
// it segments incoming speaker audio into utterances, hands them to the
// host application's transcription and reply capabilities, and streams the
// synthesized reply back into the room with barge-in cancellation.
//
// The AI capabilities themselves are black boxes supplied by the host
// application; the pipeline only requires that they tolerate slowness and
// failure without crashing the room.
package voice

import (
	"context"
	"errors"
)

// Common errors returned by the pipeline.
var (
	ErrStopped   = errors.New("voice: pipeline stopped")
	ErrQueueFull = errors.New("voice: speech queue full")
	ErrNoSink    = errors.New("voice: no audio sink configured")
)

// Transcriber converts one utterance, wrapped in a WAV container, to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// ReplyGenerator produces the reply text for a transcript.
type ReplyGenerator interface {
	Reply(ctx context.Context, userID, transcript string) (string, error)
}

// Synthesizer converts reply text to a streamed audio response.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (AudioStream, error)
}

// AudioStream is a streaming synthesis result.
// Callers read until Read returns nil, then call Close.
type AudioStream interface {
	// Read returns the next PCM16 little-endian chunk.
	// Returns nil when the stream is complete (not an error).
	Read() ([]byte, error)

	// Close stops the stream and releases resources.
	Close() error

	// Format returns the audio format metadata.
	Format() AudioFormat
}

// AudioFormat describes the PCM parameters of a synthesized stream.
type AudioFormat struct {
	// SampleRate in Hz (e.g., 16000, 24000, 48000).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int
}

// AudioSink receives the pipeline's playback frames. *janus.Client
// satisfies this.
type AudioSink interface {
	PushLocalAudio(samples []int16, sampleRate, channels int) error
}
