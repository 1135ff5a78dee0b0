package voice

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-spaces/pkg/audioio"
	"github.com/teslashibe/go-spaces/pkg/janus"
)

// Pipeline consumes per-speaker PCM, segments utterances on silence, runs
// the transcribe → reply → synthesize chain, and streams the result back to
// the room through its AudioSink.
//
// The pipeline is intentionally serialized process-wide: one in-flight
// transcription and one active playback at a time. Utterances finalized
// while another is being processed are coalesced, not processed
// concurrently.
type Pipeline struct {
	cfg  Config
	log  *slog.Logger
	stt  Transcriber
	gen  ReplyGenerator
	tts  Synthesizer
	sink AudioSink

	mu         sync.Mutex
	started    bool
	buffers    map[string]*speakerBuffer
	processing bool

	playing atomic.Bool

	winMu  sync.Mutex
	window []float64

	queue   chan string
	rootCtx context.Context
	cancel  context.CancelFunc
	drained chan struct{}

	curMu     sync.Mutex
	curCancel context.CancelFunc

	cbMu          sync.RWMutex
	onInterrupted func()
}

// speakerBuffer accumulates one speaker's qualifying frames until the
// silence gap elapses.
type speakerBuffer struct {
	samples    []int16
	sampleRate int
	channels   int
	timer      *time.Timer
}

// New creates a pipeline around the host application's capabilities.
// The sink is usually the room's signaling client.
func New(sink AudioSink, stt Transcriber, gen ReplyGenerator, tts Synthesizer, opts ...Option) *Pipeline {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "voice"),
		stt:     stt,
		gen:     gen,
		tts:     tts,
		sink:    sink,
		buffers: make(map[string]*speakerBuffer),
		queue:   make(chan string, cfg.QueueSize),
	}
}

// OnPlaybackInterrupted sets the callback fired when barge-in aborts a
// playback.
func (p *Pipeline) OnPlaybackInterrupted(fn func()) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.onInterrupted = fn
}

// Init starts the playback queue drain. Satisfies the orchestrator's
// plugin lifecycle.
func (p *Pipeline) Init(ctx context.Context) error {
	if p.sink == nil {
		return ErrNoSink
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true
	p.rootCtx, p.cancel = context.WithCancel(context.Background())
	p.drained = make(chan struct{})
	go p.drainLoop()
	return nil
}

// Cleanup stops the pipeline: cancels any active playback, drains nothing
// further, and releases the per-speaker buffers.
func (p *Pipeline) Cleanup() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	drained := p.drained
	for _, buf := range p.buffers {
		buf.timer.Stop()
	}
	p.buffers = make(map[string]*speakerBuffer)
	p.mu.Unlock()

	cancel()
	<-drained
}

// IsPlaying reports whether a synthesized stream is currently going out.
func (p *Pipeline) IsPlaying() bool {
	return p.playing.Load()
}

// OnAudioData feeds one decoded frame from a remote speaker.
//
// While a playback is active the frame is only amplitude-monitored for
// barge-in; it is never buffered. Otherwise frames below the silence floor
// are discarded and qualifying frames extend the speaker's utterance
// buffer, re-arming the silence debounce.
func (p *Pipeline) OnAudioData(frame janus.AudioFrame) {
	if p.playing.Load() {
		p.monitorBargeIn(frame)
		return
	}

	amp := audioio.MeanAbsAmplitude(frame.Samples)
	if amp < p.cfg.SilenceFloor {
		return
	}

	userID := frame.UserID
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	buf := p.buffers[userID]
	if buf == nil {
		buf = &speakerBuffer{}
		buf.timer = time.AfterFunc(p.cfg.SilenceGap, func() { p.finalize(userID) })
		p.buffers[userID] = buf
	}
	buf.samples = append(buf.samples, frame.Samples...)
	buf.sampleRate = frame.SampleRate
	buf.channels = frame.Channels
	buf.timer.Reset(p.cfg.SilenceGap)
}

// BufferedSamples reports how much audio is pending for one speaker.
func (p *Pipeline) BufferedSamples(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if buf := p.buffers[userID]; buf != nil {
		return len(buf.samples)
	}
	return 0
}

// monitorBargeIn maintains a rolling amplitude window while playing and
// aborts the playback when live speech exceeds the threshold.
func (p *Pipeline) monitorBargeIn(frame janus.AudioFrame) {
	amp := audioio.MeanAbsAmplitude(frame.Samples)

	p.winMu.Lock()
	p.window = append(p.window, amp)
	if len(p.window) > p.cfg.BargeInWindow {
		p.window = p.window[1:]
	}
	var sum float64
	for _, v := range p.window {
		sum += v
	}
	avg := sum / float64(len(p.window))
	p.winMu.Unlock()

	if avg > p.cfg.BargeInThreshold {
		p.Interrupt()
	}
}

// Interrupt aborts the active playback, if any. The queue proceeds to the
// next item.
func (p *Pipeline) Interrupt() {
	p.curMu.Lock()
	cancel := p.curCancel
	p.curCancel = nil
	p.curMu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	p.playing.Store(false)
	p.log.Info("playback interrupted by live speech")

	p.cbMu.RLock()
	fn := p.onInterrupted
	p.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Speak queues reply text for synthesis and playback. Items play strictly
// in submission order.
func (p *Pipeline) Speak(text string) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return ErrStopped
	}
	select {
	case p.queue <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// finalize drains one speaker's buffer into the processing chain. Fired by
// the silence debounce. If a transcription is already in flight the buffer
// is kept and the debounce re-armed.
func (p *Pipeline) finalize(userID string) {
	p.mu.Lock()
	buf := p.buffers[userID]
	if buf == nil || len(buf.samples) == 0 || !p.started {
		p.mu.Unlock()
		return
	}
	if p.processing {
		buf.timer.Reset(p.cfg.SilenceGap)
		p.mu.Unlock()
		return
	}
	samples := buf.samples
	rate, channels := buf.sampleRate, buf.channels
	buf.samples = nil
	p.processing = true
	p.mu.Unlock()

	go p.processUtterance(userID, samples, rate, channels)
}

// processUtterance runs one utterance through transcription and reply
// generation. Failures are logged and dropped; they are never room-fatal.
func (p *Pipeline) processUtterance(userID string, samples []int16, sampleRate, channels int) {
	defer func() {
		p.mu.Lock()
		p.processing = false
		p.mu.Unlock()
	}()

	ctx := p.rootCtx
	wav := audioio.EncodeWAV(samples, sampleRate, channels)

	transcript, err := p.stt.Transcribe(ctx, wav)
	if err != nil {
		p.log.Warn("transcription failed", "user_id", userID, "error", err)
		return
	}
	if transcript == "" {
		return
	}
	p.log.Debug("utterance transcribed", "user_id", userID, "chars", len(transcript))

	reply, err := p.gen.Reply(ctx, userID, transcript)
	if err != nil {
		p.log.Warn("reply generation failed", "user_id", userID, "error", err)
		return
	}
	if reply == "" {
		return
	}

	if err := p.Speak(reply); err != nil {
		p.log.Warn("reply dropped", "user_id", userID, "error", err)
	}
}

// drainLoop plays queued items one at a time, each with a fresh
// cancellation context.
func (p *Pipeline) drainLoop() {
	defer close(p.drained)
	for {
		select {
		case <-p.rootCtx.Done():
			return
		case text := <-p.queue:
			ctx, cancel := context.WithCancel(p.rootCtx)
			p.curMu.Lock()
			p.curCancel = cancel
			p.curMu.Unlock()

			p.play(ctx, text)

			p.curMu.Lock()
			p.curCancel = nil
			p.curMu.Unlock()
			cancel()
		}
	}
}

// play synthesizes one item and pushes it to the sink in fixed frames at
// real-time pace, checking the cancellation context before each frame.
// Synthesis and transcode errors advance the queue; they are not fatal.
func (p *Pipeline) play(ctx context.Context, text string) {
	stream, err := p.tts.Synthesize(ctx, text)
	if err != nil {
		p.log.Warn("synthesis failed", "chars", len(text), "error", err)
		return
	}
	defer stream.Close()

	format := stream.Format()
	frameSamples := int(p.cfg.FrameDuration.Seconds() * float64(p.cfg.OutputSampleRate))

	p.winMu.Lock()
	p.window = p.window[:0]
	p.winMu.Unlock()
	p.playing.Store(true)
	defer p.playing.Store(false)

	var pending []int16
	eof := false
	for {
		if ctx.Err() != nil {
			return
		}

		for !eof && len(pending) < frameSamples {
			chunk, err := stream.Read()
			if err != nil {
				p.log.Warn("synthesis stream failed", "error", err)
				return
			}
			if chunk == nil {
				eof = true
				break
			}
			samples := audioio.BytesToSamples(chunk)
			if format.Channels == 2 {
				samples = audioio.StereoToMono(samples)
			}
			pending = append(pending, audioio.Resample(samples, format.SampleRate, p.cfg.OutputSampleRate)...)
		}

		if len(pending) == 0 {
			return
		}

		n := frameSamples
		if n > len(pending) {
			n = len(pending)
		}
		frame := pending[:n]
		pending = pending[n:]

		if ctx.Err() != nil {
			return
		}
		if err := p.sink.PushLocalAudio(frame, p.cfg.OutputSampleRate, 1); err != nil {
			p.log.Warn("audio push failed", "error", err)
			return
		}
		time.Sleep(p.cfg.FrameDuration)
	}
}
