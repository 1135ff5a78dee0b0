// space-join joins an existing space as a listener, optionally requesting
// the mic and publishing once approved.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-spaces/internal/config"
	"github.com/teslashibe/go-spaces/internal/log"
	"github.com/teslashibe/go-spaces/pkg/chat"
	"github.com/teslashibe/go-spaces/pkg/janus"
	"github.com/teslashibe/go-spaces/pkg/space"
)

func main() {
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	requestMic := flag.Bool("request-mic", false, "Request to speak after joining")
	emoji := flag.String("react", "", "Send one emoji reaction after joining")
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
		StreamName: config.Env("STREAM_NAME", "spaces-guest"),
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

	guest := space.NewGuest(sig, ctrl, admin, space.Config{
		RoomID:        roomID,
		UserID:        userID,
		AcceptTimeout: config.EnvDuration("ACCEPT_TIMEOUT", space.DefaultAcceptTimeout),
		Logger:        log.L(),
	})
	guest.OnRoleChanged(func(role space.Role) {
		log.Info("role changed", "role", role.String())
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := guest.JoinAsListener(ctx); err != nil {
		log.Error("join failed", "error", err)
		return
	}
	defer guest.Leave(context.Background())

	if *emoji != "" {
		guest.React(*emoji)
	}
	if *requestMic {
		sessionUUID, err := guest.RequestSpeaker(ctx)
		if err != nil {
			log.Error("speaker request failed", "error", err)
		} else {
			log.Info("speaker request pending", "session_uuid", sessionUUID)
		}
	}

	<-ctx.Done()
	log.Info("leaving room")
}
