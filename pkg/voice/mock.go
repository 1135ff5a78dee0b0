package voice

import (
	"context"
	"sync"
	"time"
)

// MockTranscriber is a Transcriber for testing. It records every call and
// can be programmed with a custom TranscribeFunc.
type MockTranscriber struct {
	mu    sync.Mutex
	calls [][]byte

	TranscribeFunc func(ctx context.Context, wav []byte) (string, error)
	Transcript     string
	Err            error
	Latency        time.Duration
}

func (m *MockTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, wav)
	m.mu.Unlock()
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, wav)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Transcript, nil
}

// CallCount returns how many transcriptions were requested.
func (m *MockTranscriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the most recent WAV payload, or nil.
func (m *MockTranscriber) LastCall() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// MockReplyGenerator is a ReplyGenerator for testing.
type MockReplyGenerator struct {
	mu    sync.Mutex
	calls []string

	ReplyFunc func(ctx context.Context, userID, transcript string) (string, error)
	Response  string
	Err       error
}

func (m *MockReplyGenerator) Reply(ctx context.Context, userID, transcript string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, transcript)
	m.mu.Unlock()
	if m.ReplyFunc != nil {
		return m.ReplyFunc(ctx, userID, transcript)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

func (m *MockReplyGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockSynthesizer is a Synthesizer for testing. By default each call yields
// a short PCM stream built from the Samples field.
type MockSynthesizer struct {
	mu    sync.Mutex
	calls []string

	SynthesizeFunc func(ctx context.Context, text string) (AudioStream, error)
	Samples        []int16
	Format         AudioFormat
	Err            error
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (AudioStream, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	format := m.Format
	if format.SampleRate == 0 {
		format = AudioFormat{SampleRate: 48000, Channels: 1}
	}
	return NewBufferStream(m.Samples, format), nil
}

// Calls returns a copy of the texts synthesized so far, in order.
func (m *MockSynthesizer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockSynthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// bufferStream serves a fixed PCM buffer as an AudioStream, one chunk per
// Read.
type bufferStream struct {
	mu     sync.Mutex
	data   []byte
	offset int
	chunk  int
	format AudioFormat
	closed bool
}

// NewBufferStream wraps in-memory samples as an AudioStream.
func NewBufferStream(samples []int16, format AudioFormat) AudioStream {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return &bufferStream{data: data, chunk: 960, format: format}
}

func (s *bufferStream) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.offset >= len(s.data) {
		return nil, nil
	}
	end := s.offset + s.chunk
	if end > len(s.data) {
		end = len(s.data)
	}
	out := s.data[s.offset:end]
	s.offset = end
	return out, nil
}

func (s *bufferStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *bufferStream) Format() AudioFormat { return s.format }
