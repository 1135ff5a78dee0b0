// space-host hosts a live audio space: it creates the room, admits
// speakers, runs the voice pipeline, and serves the dashboard.
package main

import (
	"context"
	"flag"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-spaces/internal/config"
	"github.com/teslashibe/go-spaces/internal/log"
	"github.com/teslashibe/go-spaces/pkg/chat"
	"github.com/teslashibe/go-spaces/pkg/idle"
	"github.com/teslashibe/go-spaces/pkg/janus"
	"github.com/teslashibe/go-spaces/pkg/space"
	"github.com/teslashibe/go-spaces/pkg/voice"
	"github.com/teslashibe/go-spaces/pkg/web"
)

func main() {
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	port := flag.String("port", "8085", "Dashboard port")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	roomID := config.EnvRequired("ROOM_ID")
	userID := config.EnvRequired("USER_ID")
	credential := config.EnvRequired("ROOM_CREDENTIAL")
	adminURL := config.EnvRequired("ADMIN_URL")
	adminToken := config.EnvRequired("ADMIN_TOKEN")

	sig := janus.NewClient(janus.Config{
		GatewayURL: config.GatewayURL(),
		Credential: credential,
		RoomID:     roomID,
		UserID:     userID,
		StreamName: config.Env("STREAM_NAME", "spaces-host"),
		Logger:     log.L(),
	})
	ctrl := chat.NewClient(chat.Config{
		Endpoint:    config.ChatURL(),
		AccessToken: credential,
		RoomID:      roomID,
		DisplayName: userID,
		Logger:      log.L(),
	})
	admin := space.NewAdminClient(adminURL, adminToken, roomID, log.L())

	sp := space.New(sig, ctrl, admin, space.Config{
		RoomID:          roomID,
		UserID:          userID,
		MaxSpeakers:     config.EnvInt("MAX_SPEAKERS", space.DefaultMaxSpeakers),
		SpeakerDuration: config.EnvDuration("SPEAKER_DURATION", space.DefaultSpeakerDuration),
		TotalDuration:   config.EnvDuration("SPACE_DURATION", space.DefaultTotalDuration),
		Logger:          log.L(),
	})

	dash := web.NewServer(*port, sp, log.L())

	pipeline := voice.New(sig,
		&voice.MockTranscriber{Transcript: ""}, // plug a real STT provider here
		echoReply{},
		toneSynth{},
		voice.WithLogger(log.L()),
	)
	pipeline.OnPlaybackInterrupted(func() {
		dash.AddTranscript("event", "", "playback interrupted")
	})
	dash.OnSpeak = pipeline.Speak
	sp.Use(pipeline)

	monitor := idle.New(config.EnvDuration("IDLE_THRESHOLD", idle.DefaultThreshold), idle.WithLogger(log.L()))
	monitor.OnIdle(func(silence time.Duration) {
		dash.AddTranscript("event", "", "room idle for "+silence.Round(time.Second).String())
	})
	sp.Use(idleTouchPlugin{monitor})

	sp.OnLive(func(st space.State) {
		log.Info("space is live", "room", st.RoomID)
		dash.BroadcastStatus()
	})
	sp.OnSpeakerAdmitted(func(p space.Participant) { dash.BroadcastStatus() })
	sp.OnSpeakerRemoved(func(p space.Participant) { dash.BroadcastStatus() })
	sp.OnOccupancy(func(chat.OccupancyUpdate) { dash.BroadcastStatus() })

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sp.Initialize(ctx); err != nil {
		log.Error("space start failed", "error", err)
		return
	}
	defer sp.Finalize()

	dash.StartAsync()
	defer dash.Shutdown()

	<-ctx.Done()
	log.Info("shutting down")
}

// echoReply repeats each transcript back, for running without an LLM.
type echoReply struct{}

func (echoReply) Reply(ctx context.Context, userID, transcript string) (string, error) {
	return transcript, nil
}

// toneSynth plays a short tone per reply, for running without a TTS
// provider.
type toneSynth struct{}

func (toneSynth) Synthesize(ctx context.Context, text string) (voice.AudioStream, error) {
	const (
		rate = 48000
		freq = 440.0
	)
	samples := make([]int16, rate/2)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return voice.NewBufferStream(samples, voice.AudioFormat{SampleRate: rate, Channels: 1}), nil
}

// idleTouchPlugin bridges room audio into the idle monitor.
type idleTouchPlugin struct {
	monitor *idle.Monitor
}

func (p idleTouchPlugin) Init(ctx context.Context) error { return p.monitor.Init(ctx) }
func (p idleTouchPlugin) Cleanup()                       { p.monitor.Cleanup() }
func (p idleTouchPlugin) OnAudioData(frame janus.AudioFrame) {
	p.monitor.Touch()
}
