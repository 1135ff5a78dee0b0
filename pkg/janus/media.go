package janus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

// Remote tracks are decoded at the Opus native rate.
const (
	decodeSampleRate = 48000
	decodeChannels   = 1

	// 120ms at 48kHz, the largest frame libopus can produce.
	maxDecodedSamples = 5760

	// Large enough for any encoded Opus frame we produce.
	maxEncodedBytes = 1400
)

// publisherMedia holds the local outbound leg: one PeerConnection, one Opus
// track, and a lazily created encoder.
type publisherMedia struct {
	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticSample
	enc     *opus.Encoder
	encRate int
	encCh   int
	encBuf  []byte
}

// webrtcConfig builds the PeerConnection configuration from the TURN
// descriptors. The same configuration is reused for the publisher and every
// subscriber connection.
func (c *Client) webrtcConfig() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	for _, t := range c.cfg.TurnServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       []string{t.URI},
			Username:   t.Username,
			Credential: t.Password,
		})
	}
	return cfg
}

// setupPublisher builds the local PeerConnection, offers, and waits for the
// gateway to confirm the configure. The SDP answer itself is applied by the
// poll loop dispatcher when it arrives.
func (c *Client) setupPublisher(ctx context.Context) error {
	handleID := c.Session().HandleID

	pc, err := webrtc.NewPeerConnection(c.webrtcConfig())
	if err != nil {
		return &MediaError{Op: "publisher setup", State: err.Error()}
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		c.log.Debug("publisher ice state", "state", state.String())
		if state == webrtc.ICEConnectionStateFailed {
			c.emitError(&MediaError{Op: "publisher", State: state.String()})
		}
	})

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: decodeSampleRate,
			Channels:  decodeChannels,
		},
		"audio", c.cfg.StreamName,
	)
	if err != nil {
		pc.Close()
		return &MediaError{Op: "publisher setup", State: err.Error()}
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return &MediaError{Op: "publisher setup", State: err.Error()}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return &MediaError{Op: "publisher offer", State: err.Error()}
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return &MediaError{Op: "publisher offer", State: err.Error()}
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return ctx.Err()
	}

	c.pcMu.Lock()
	c.pcs[handleID] = pc
	c.pcMu.Unlock()

	c.pub.mu.Lock()
	c.pub.pc = pc
	c.pub.track = track
	c.pub.encBuf = make([]byte, maxEncodedBytes)
	c.pub.mu.Unlock()

	local := pc.LocalDescription()
	if _, err := c.message(ctx, handleID, map[string]any{
		"request": "configure",
		"audio":   true,
		"video":   false,
	}, &jsepData{Type: local.Type.String(), SDP: local.SDP}); err != nil {
		return err
	}

	_, err = c.waitForEvent(ctx, "publisher configured", c.eventTimeout, func(ev *Event) bool {
		if ev.Sender != handleID {
			return false
		}
		re, ok := ev.pluginEvent()
		return ok && re.Configured == "ok"
	})
	return err
}

// applyRemoteAnswer applies an SDP answer event to the PeerConnection of
// the handle it was sent on.
func (c *Client) applyRemoteAnswer(ev *Event) {
	c.pcMu.Lock()
	pc := c.pcs[ev.Sender]
	c.pcMu.Unlock()
	if pc == nil {
		c.log.Debug("answer for unknown handle", "sender", ev.Sender)
		return
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  ev.Jsep.SDP,
	}); err != nil {
		c.emitError(&MediaError{Op: "apply answer", State: err.Error()})
	}
}

// PushLocalAudio encodes PCM16 and writes it to the local publish track.
// The encoder is created lazily from the first frame's format.
func (c *Client) PushLocalAudio(samples []int16, sampleRate, channels int) error {
	c.pub.mu.Lock()
	defer c.pub.mu.Unlock()

	if c.pub.track == nil {
		return ErrNotInitialized
	}

	if c.pub.enc == nil || c.pub.encRate != sampleRate || c.pub.encCh != channels {
		enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
		if err != nil {
			return fmt.Errorf("janus: opus encoder: %w", err)
		}
		c.pub.enc = enc
		c.pub.encRate = sampleRate
		c.pub.encCh = channels
	}

	n, err := c.pub.enc.Encode(samples, c.pub.encBuf)
	if err != nil {
		return fmt.Errorf("janus: opus encode: %w", err)
	}

	samplesPerChannel := len(samples) / channels
	duration := time.Duration(samplesPerChannel) * time.Second / time.Duration(sampleRate)

	data := make([]byte, n)
	copy(data, c.pub.encBuf[:n])
	return c.pub.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// closePublisher tears down the local outbound leg.
func (c *Client) closePublisher() {
	c.pub.mu.Lock()
	pc := c.pub.pc
	c.pub.pc = nil
	c.pub.track = nil
	c.pub.enc = nil
	c.pub.mu.Unlock()
	if pc != nil {
		pc.Close()
	}
}

// subscriber is one remote speaker: a dedicated handle and PeerConnection
// receiving a single feed.
type subscriber struct {
	userID   string
	feedID   uint64
	handleID uint64
	pc       *webrtc.PeerConnection
}

func (s *subscriber) close() {
	if s.pc != nil {
		s.pc.Close()
	}
}

// newSubscriber builds the receiving PeerConnection for one feed, answers
// the gateway's offer, and starts the decode loop when the track arrives.
func (c *Client) newSubscriber(userID string, feedID, handleID uint64, offer *jsepData) (*subscriber, *jsepData, error) {
	pc, err := webrtc.NewPeerConnection(c.webrtcConfig())
	if err != nil {
		return nil, nil, &MediaError{Op: "subscriber setup", State: err.Error()}
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed {
			c.emitError(&MediaError{Op: "subscriber " + userID, State: state.String()})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go c.decodeLoop(userID, track)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		pc.Close()
		return nil, nil, &MediaError{Op: "subscriber offer", State: err.Error()}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, nil, &MediaError{Op: "subscriber answer", State: err.Error()}
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, nil, &MediaError{Op: "subscriber answer", State: err.Error()}
	}
	<-gathered

	c.pcMu.Lock()
	c.pcs[handleID] = pc
	c.pcMu.Unlock()

	local := pc.LocalDescription()
	sub := &subscriber{userID: userID, feedID: feedID, handleID: handleID, pc: pc}
	return sub, &jsepData{Type: local.Type.String(), SDP: local.SDP}, nil
}

// decodeLoop reads RTP from a remote track and emits decoded PCM frames.
// Closing the PeerConnection unblocks the read and ends the loop.
func (c *Client) decodeLoop(userID string, track *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(decodeSampleRate, decodeChannels)
	if err != nil {
		c.emitError(&MediaError{Op: "decoder " + userID, State: err.Error()})
		return
	}

	pcm := make([]int16, maxDecodedSamples)
	var pkt *rtp.Packet
	for {
		pkt, _, err = track.ReadRTP()
		if err != nil {
			c.log.Debug("decode loop ended", "user_id", userID, "error", err)
			return
		}

		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			c.log.Debug("opus decode error", "user_id", userID, "error", err)
			continue
		}
		if n == 0 {
			continue
		}

		samples := make([]int16, n)
		copy(samples, pcm[:n])
		c.emitAudio(AudioFrame{
			UserID:     userID,
			SampleRate: decodeSampleRate,
			Channels:   decodeChannels,
			Samples:    samples,
		})
	}
}
