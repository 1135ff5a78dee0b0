package space

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-spaces/pkg/chat"
)

// ErrNotListener is returned when a speaker request is made from any role
// other than listener.
var ErrNotListener = errors.New("space: speaker request requires listener role")

// Guest joins someone else's room. Role lifecycle: listener → pending →
// speaker → listener, with pending falling back to listener on denial or
// timeout.
type Guest struct {
	cfg   Config
	log   *slog.Logger
	sig   Signaler
	ctrl  ControlChannel
	admin Admin

	mu          sync.Mutex
	joined      bool
	role        Role
	sessionUUID string
	accepted    chan struct{}
	waitCancel  context.CancelFunc

	cbMu   sync.RWMutex
	onRole func(Role)
}

// NewGuest creates a guest orchestrator over the given clients.
func NewGuest(sig Signaler, ctrl ControlChannel, admin Admin, cfg Config) *Guest {
	cfg.applyDefaults()
	return &Guest{
		cfg:   cfg,
		log:   cfg.Logger.With("component", "guest", "room", cfg.RoomID),
		sig:   sig,
		ctrl:  ctrl,
		admin: admin,
		role:  RoleListener,
	}
}

// OnRoleChanged sets the callback fired whenever the guest's role moves.
func (g *Guest) OnRoleChanged(fn func(Role)) {
	g.cbMu.Lock()
	defer g.cbMu.Unlock()
	g.onRole = fn
}

// Role returns the guest's current role.
func (g *Guest) Role() Role {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.role
}

// JoinAsListener connects the control channel and starts listening for
// admission events.
func (g *Guest) JoinAsListener(ctx context.Context) error {
	g.mu.Lock()
	if g.joined {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	g.ctrl.OnSpeakerAccepted(g.handleAccepted)
	g.ctrl.OnSpeakerRemoved(g.handleRemoved)
	if err := g.ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("connect control channel: %w", err)
	}

	g.mu.Lock()
	g.joined = true
	g.role = RoleListener
	g.mu.Unlock()
	g.log.Info("joined as listener")
	return nil
}

// RequestSpeaker submits a speaker request and returns its correlation id.
// The guest transitions to pending and waits in the background for a
// matching acceptance; if none arrives within the accept timeout the
// request is withdrawn and the role reverts to listener.
func (g *Guest) RequestSpeaker(ctx context.Context) (string, error) {
	g.mu.Lock()
	if !g.joined || g.role != RoleListener {
		role := g.role
		g.mu.Unlock()
		return "", fmt.Errorf("%w (current role %s)", ErrNotListener, role)
	}
	g.mu.Unlock()

	sessionUUID, err := g.admin.RequestSpeaker(ctx, g.cfg.UserID)
	if err != nil {
		return "", fmt.Errorf("request speaker: %w", err)
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	accepted := make(chan struct{})

	g.mu.Lock()
	g.sessionUUID = sessionUUID
	g.accepted = accepted
	g.waitCancel = cancel
	g.setRoleLocked(RolePending)
	g.mu.Unlock()

	g.log.Info("speaker request submitted", "session_uuid", sessionUUID)
	go g.awaitAcceptance(waitCtx, sessionUUID, accepted)
	return sessionUUID, nil
}

// awaitAcceptance resolves one pending request: acceptance promotes the
// guest to speaker, timeout withdraws the request.
func (g *Guest) awaitAcceptance(ctx context.Context, sessionUUID string, accepted <-chan struct{}) {
	timer := time.NewTimer(g.cfg.AcceptTimeout)
	defer timer.Stop()

	select {
	case <-accepted:
		if err := g.becomeSpeaker(ctx); err != nil {
			g.log.Warn("speaker promotion failed", "error", err)
			g.revertToListener(sessionUUID, true)
		}
	case <-timer.C:
		g.log.Info("speaker request timed out", "session_uuid", sessionUUID)
		g.revertToListener(sessionUUID, true)
	case <-ctx.Done():
	}
}

// becomeSpeaker brings up the media session as a publisher.
func (g *Guest) becomeSpeaker(ctx context.Context) error {
	if _, err := g.sig.InitializeAsGuest(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	g.setRoleLocked(RoleSpeaker)
	g.mu.Unlock()
	g.log.Info("now speaking")
	return nil
}

// handleAccepted promotes a matching pending request.
func (g *Guest) handleAccepted(ev chat.SpeakerEvent) {
	g.mu.Lock()
	var accepted chan struct{}
	if g.role == RolePending && ev.SessionUUID == g.sessionUUID {
		accepted = g.accepted
		g.accepted = nil
	}
	g.mu.Unlock()
	if accepted != nil {
		close(accepted)
	}
}

// handleRemoved forces a speaking guest back to listener and detaches the
// media session.
func (g *Guest) handleRemoved(ev chat.SpeakerEvent) {
	g.mu.Lock()
	match := g.role == RoleSpeaker && ev.SessionUUID == g.sessionUUID
	g.mu.Unlock()
	if !match {
		return
	}

	g.log.Info("removed from speakers")
	g.sig.Stop()
	g.revertToListener(ev.SessionUUID, false)
}

// revertToListener clears the pending state. When withdraw is set the
// request is also cancelled upstream.
func (g *Guest) revertToListener(sessionUUID string, withdraw bool) {
	g.mu.Lock()
	if g.sessionUUID != sessionUUID {
		g.mu.Unlock()
		return
	}
	g.sessionUUID = ""
	g.accepted = nil
	cancel := g.waitCancel
	g.waitCancel = nil
	g.setRoleLocked(RoleListener)
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if withdraw {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := g.admin.CancelSpeakerRequest(ctx, sessionUUID); err != nil {
			g.log.Warn("cancel speaker request failed", "error", err)
		}
	}
}

// React sends an emoji reaction.
func (g *Guest) React(emoji string) {
	g.ctrl.ReactWithEmoji(emoji)
}

// Leave exits the room: any pending request is withdrawn, the media
// session stops, and the control channel disconnects. Idempotent.
func (g *Guest) Leave(ctx context.Context) {
	g.mu.Lock()
	if !g.joined {
		g.mu.Unlock()
		return
	}
	g.joined = false
	role := g.role
	sessionUUID := g.sessionUUID
	cancel := g.waitCancel
	g.waitCancel = nil
	g.sessionUUID = ""
	g.accepted = nil
	g.setRoleLocked(RoleListener)
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if role == RolePending && sessionUUID != "" {
		if err := g.admin.CancelSpeakerRequest(ctx, sessionUUID); err != nil {
			g.log.Warn("cancel speaker request failed", "error", err)
		}
	}
	if role == RoleSpeaker {
		if err := g.sig.LeaveRoom(ctx); err != nil {
			g.log.Warn("leave room failed", "error", err)
		}
		g.sig.Stop()
	}
	g.ctrl.Disconnect()
	g.log.Info("left room")
}

// setRoleLocked updates the role and schedules the callback. Caller holds
// g.mu.
func (g *Guest) setRoleLocked(role Role) {
	if g.role == role {
		return
	}
	g.role = role
	g.cbMu.RLock()
	fn := g.onRole
	g.cbMu.RUnlock()
	if fn != nil {
		go fn(role)
	}
}
