// Package space orchestrates a live audio room: it owns the signaling and
// control-channel clients, enforces speaker admission policy, and runs the
// plugin lifecycle for voice and idle monitoring.
package space

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-spaces/pkg/chat"
	"github.com/teslashibe/go-spaces/pkg/janus"
)

// Role is a participant's position in the admission lifecycle.
type Role int

const (
	RoleListener Role = iota
	RolePending
	RoleSpeaker
)

func (r Role) String() string {
	switch r {
	case RoleListener:
		return "listener"
	case RolePending:
		return "pending"
	case RoleSpeaker:
		return "speaker"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Participant is one admitted or queued member of the room, keyed by the
// sessionUUID correlating their admission request to their media identity.
type Participant struct {
	UserID      string
	Username    string
	SessionUUID string
	FeedID      uint64
	StartTime   time.Time
	Role        Role
}

// State is a point-in-time snapshot of a hosted room.
type State struct {
	Live              bool
	RoomID            string
	StartedAt         time.Time
	Occupancy         int
	TotalParticipants int
	Speakers          []Participant
	Queued            int
}

// Space hosts a room. Lifecycle: Initialize starts both clients and the
// management tick; Finalize tears everything down and returns the space to
// idle. A Space can host again after Finalize.
type Space struct {
	cfg   Config
	log   *slog.Logger
	sig   Signaler
	ctrl  ControlChannel
	admin Admin

	mu           sync.Mutex
	hosting      bool
	startedAt    time.Time
	emptySince   time.Time
	participants map[string]*Participant
	queue        []chat.SpeakerRequest
	admitOrder   []string
	occupancy    chat.OccupancyUpdate
	cancel       context.CancelFunc
	loopDone     chan struct{}

	plugins   []Plugin
	consumers []AudioConsumer

	cbMu       sync.RWMutex
	onLive     func(State)
	onAdmitted func(Participant)
	onRemoved  func(Participant)
	onOccupied func(chat.OccupancyUpdate)
}

// New creates a host orchestrator over the given clients.
func New(sig Signaler, ctrl ControlChannel, admin Admin, cfg Config) *Space {
	cfg.applyDefaults()
	return &Space{
		cfg:          cfg,
		log:          cfg.Logger.With("component", "space", "room", cfg.RoomID),
		sig:          sig,
		ctrl:         ctrl,
		admin:        admin,
		participants: make(map[string]*Participant),
	}
}

// Use registers a plugin. Plugins implementing AudioConsumer also receive
// the room's decoded audio. Register before Initialize.
func (s *Space) Use(p Plugin) {
	s.plugins = append(s.plugins, p)
	if c, ok := p.(AudioConsumer); ok {
		s.consumers = append(s.consumers, c)
	}
}

// OnLive sets the announcement hook fired once the room is up, so the
// host application can publish the room externally.
func (s *Space) OnLive(fn func(State)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onLive = fn
}

// OnSpeakerAdmitted sets the callback fired when a queued request is
// approved and subscribed.
func (s *Space) OnSpeakerAdmitted(fn func(Participant)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onAdmitted = fn
}

// OnSpeakerRemoved sets the callback fired when a speaker leaves the
// admitted set, whatever the reason.
func (s *Space) OnSpeakerRemoved(fn func(Participant)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onRemoved = fn
}

// OnOccupancy sets the callback fired on room occupancy updates.
func (s *Space) OnOccupancy(fn func(chat.OccupancyUpdate)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onOccupied = fn
}

// Initialize creates the room, connects both clients, initializes plugins,
// and starts the management tick.
func (s *Space) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.hosting {
		s.mu.Unlock()
		return janus.ErrAlreadyInitialized
	}
	// Hosting state goes up before the control channel connects so that a
	// speaker request arriving mid-setup is queued rather than dropped.
	s.hosting = true
	s.startedAt = time.Now()
	s.emptySince = time.Time{}
	s.participants = make(map[string]*Participant)
	s.queue = nil
	s.admitOrder = nil
	s.mu.Unlock()

	unwind := func() {
		s.mu.Lock()
		s.hosting = false
		s.mu.Unlock()
	}

	if _, err := s.sig.InitializeAsHost(ctx); err != nil {
		unwind()
		return fmt.Errorf("initialize signaling: %w", err)
	}

	s.ctrl.OnSpeakerRequest(s.handleSpeakerRequest)
	s.ctrl.OnSpeakerRemoved(s.handleSpeakerRemoved)
	s.ctrl.OnOccupancy(s.handleOccupancy)
	s.sig.OnAudioData(s.fanOutAudio)
	s.sig.OnError(func(err error) {
		s.log.Warn("signaling error", "error", err)
	})

	if err := s.ctrl.Connect(ctx); err != nil {
		s.sig.Stop()
		unwind()
		return fmt.Errorf("connect control channel: %w", err)
	}

	for _, p := range s.plugins {
		if err := p.Init(ctx); err != nil {
			s.ctrl.Disconnect()
			s.sig.Stop()
			unwind()
			return fmt.Errorf("init plugin: %w", err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	go s.managementLoop(loopCtx)
	s.log.Info("space live", "max_speakers", s.cfg.MaxSpeakers)

	s.cbMu.RLock()
	announce := s.onLive
	s.cbMu.RUnlock()
	if announce != nil {
		announce(s.Snapshot())
	}
	return nil
}

// IsLive reports whether the space is currently hosting.
func (s *Space) IsLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hosting
}

// Snapshot returns the room's current state for display.
func (s *Space) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Live:              s.hosting,
		RoomID:            s.cfg.RoomID,
		StartedAt:         s.startedAt,
		Occupancy:         s.occupancy.Occupancy,
		TotalParticipants: s.occupancy.TotalParticipants,
		Queued:            len(s.queue),
	}
	for _, id := range s.admitOrder {
		if p := s.participants[id]; p != nil {
			st.Speakers = append(st.Speakers, *p)
		}
	}
	return st
}

// Speakers returns the admitted participants in admission order.
func (s *Space) Speakers() []Participant {
	return s.Snapshot().Speakers
}

// React sends an emoji reaction through the control channel.
func (s *Space) React(emoji string) {
	s.ctrl.ReactWithEmoji(emoji)
}

func (s *Space) fanOutAudio(frame janus.AudioFrame) {
	for _, c := range s.consumers {
		c.OnAudioData(frame)
	}
}

// handleSpeakerRequest queues an admission request. Duplicate requests for
// an already queued or admitted sessionUUID are dropped.
func (s *Space) handleSpeakerRequest(req chat.SpeakerRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hosting {
		return
	}
	if _, ok := s.participants[req.SessionUUID]; ok {
		return
	}
	for _, q := range s.queue {
		if q.SessionUUID == req.SessionUUID {
			return
		}
	}
	s.queue = append(s.queue, req)
	s.log.Info("speaker request queued", "user_id", req.UserID, "queued", len(s.queue))
}

// handleSpeakerRemoved reacts to an external removal announcement by
// dropping the participant and tearing down their subscription.
func (s *Space) handleSpeakerRemoved(ev chat.SpeakerEvent) {
	s.removeBySession(ev.SessionUUID, "announced removal")
}

func (s *Space) handleOccupancy(u chat.OccupancyUpdate) {
	s.mu.Lock()
	s.occupancy = u
	s.mu.Unlock()

	s.cbMu.RLock()
	fn := s.onOccupied
	s.cbMu.RUnlock()
	if fn != nil {
		fn(u)
	}
}

func (s *Space) managementLoop(ctx context.Context) {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.cfg.ManagementInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.manage(ctx)
		}
	}
}

// manage is one policy tick: expire over-duration speakers, admit queued
// requests up to the cap, evict any excess, and end the session when its
// time is up or the room has emptied out.
func (s *Space) manage(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	if !s.hosting {
		s.mu.Unlock()
		return
	}

	var expired []Participant
	for _, id := range s.admitOrder {
		p := s.participants[id]
		if p != nil && now.Sub(p.StartTime) > s.cfg.SpeakerDuration {
			expired = append(expired, *p)
		}
	}

	elapsed := now.Sub(s.startedAt)
	empty := len(s.participants) == 0 && s.occupancy.Occupancy == 0
	if empty {
		if s.emptySince.IsZero() {
			s.emptySince = now
		}
	} else {
		s.emptySince = time.Time{}
	}
	endForEmpty := empty && !s.emptySince.IsZero() && now.Sub(s.emptySince) > s.cfg.EmptyGrace
	s.mu.Unlock()

	for _, p := range expired {
		s.log.Info("speaker time up", "user_id", p.UserID, "elapsed", now.Sub(p.StartTime))
		if err := s.admin.RemoveSpeaker(ctx, p.UserID, p.SessionUUID); err != nil {
			s.log.Warn("remove speaker failed", "user_id", p.UserID, "error", err)
		}
		s.removeBySession(p.SessionUUID, "duration cap")
	}

	s.admitQueued(ctx)
	s.evictExcess(ctx)

	if elapsed > s.cfg.TotalDuration {
		s.log.Info("space duration reached", "elapsed", elapsed)
		s.Finalize()
		return
	}
	if endForEmpty {
		s.log.Info("space empty past grace period")
		s.Finalize()
	}
}

// admitQueued approves requests in FIFO order while slots remain. An
// approval or subscribe failure leaves the request at the head of the
// queue for the next tick.
func (s *Space) admitQueued(ctx context.Context) {
	for {
		s.mu.Lock()
		if !s.hosting || len(s.queue) == 0 || len(s.participants) >= s.cfg.MaxSpeakers {
			s.mu.Unlock()
			return
		}
		req := s.queue[0]
		s.mu.Unlock()

		if err := s.admin.ApproveSpeaker(ctx, req.UserID, req.SessionUUID); err != nil {
			s.log.Warn("approve failed, will retry", "user_id", req.UserID, "error", err)
			return
		}
		if err := s.sig.SubscribeSpeaker(ctx, req.UserID, 0); err != nil {
			s.log.Warn("subscribe failed, will retry", "user_id", req.UserID, "error", err)
			return
		}

		p := Participant{
			UserID:      req.UserID,
			Username:    req.Username,
			SessionUUID: req.SessionUUID,
			StartTime:   time.Now(),
			Role:        RoleSpeaker,
		}
		s.mu.Lock()
		if len(s.queue) > 0 && s.queue[0].SessionUUID == req.SessionUUID {
			s.queue = s.queue[1:]
		}
		s.participants[p.SessionUUID] = &p
		s.admitOrder = append(s.admitOrder, p.SessionUUID)
		s.mu.Unlock()

		s.log.Info("speaker admitted", "user_id", p.UserID)
		s.emitAdmitted(p)
	}
}

// evictExcess enforces the speaker cap if it was lowered or overshot.
// Policy: the latest-admitted speakers go first, preserving the earliest
// admissions.
func (s *Space) evictExcess(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.participants) <= s.cfg.MaxSpeakers || len(s.admitOrder) == 0 {
			s.mu.Unlock()
			return
		}
		id := s.admitOrder[len(s.admitOrder)-1]
		p := s.participants[id]
		s.mu.Unlock()
		if p == nil {
			return
		}

		s.log.Info("evicting excess speaker", "user_id", p.UserID)
		if err := s.admin.RemoveSpeaker(ctx, p.UserID, p.SessionUUID); err != nil {
			s.log.Warn("evict failed", "user_id", p.UserID, "error", err)
		}
		s.removeBySession(p.SessionUUID, "over capacity")
	}
}

// removeBySession drops one participant and tears down their subscription.
// Unknown sessions are ignored.
func (s *Space) removeBySession(sessionUUID, reason string) {
	s.mu.Lock()
	p := s.participants[sessionUUID]
	if p == nil {
		s.mu.Unlock()
		return
	}
	removed := *p
	delete(s.participants, sessionUUID)
	for i, id := range s.admitOrder {
		if id == sessionUUID {
			s.admitOrder = append(s.admitOrder[:i], s.admitOrder[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.sig.UnsubscribeSpeaker(removed.UserID)
	s.log.Info("speaker removed", "user_id", removed.UserID, "reason", reason)

	s.cbMu.RLock()
	fn := s.onRemoved
	s.cbMu.RUnlock()
	if fn != nil {
		fn(removed)
	}
}

func (s *Space) emitAdmitted(p Participant) {
	s.cbMu.RLock()
	fn := s.onAdmitted
	s.cbMu.RUnlock()
	if fn != nil {
		fn(p)
	}
}

// Finalize ends the session: the room-facing teardown calls run
// concurrently, then local resources are released. Idempotent.
func (s *Space) Finalize() {
	s.mu.Lock()
	if !s.hosting {
		s.mu.Unlock()
		return
	}
	s.hosting = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, cancelCalls := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCalls()

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				s.log.Warn("teardown step failed", "step", name, "error", err)
			}
		}()
	}
	run("destroy room", func() error { return s.sig.DestroyRoom(ctx) })
	run("end space", func() error { return s.admin.EndSpace(ctx) })
	run("leave room", func() error { return s.sig.LeaveRoom(ctx) })
	run("disconnect control", func() error { s.ctrl.Disconnect(); return nil })
	wg.Wait()

	s.sig.Stop()
	for _, p := range s.plugins {
		p.Cleanup()
	}

	s.mu.Lock()
	s.participants = make(map[string]*Participant)
	s.queue = nil
	s.admitOrder = nil
	s.mu.Unlock()

	s.log.Info("space finalized")
}
