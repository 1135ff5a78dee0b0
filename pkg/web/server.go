// Package web serves a live dashboard for a hosted space: room status,
// speaker roster, and the transcript feed, streamed over websockets.
package web

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-spaces/pkg/hub"
	"github.com/teslashibe/go-spaces/pkg/space"
)

const maxTranscriptEntries = 200

// TranscriptEntry is one line of the room's transcript feed.
type TranscriptEntry struct {
	Time    string `json:"time"`
	Role    string `json:"role"` // speaker, reply, event
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message"`
}

// Server is the dashboard HTTP and websocket server.
type Server struct {
	app  *fiber.App
	port string
	log  *slog.Logger

	space *space.Space

	transcriptMu sync.RWMutex
	transcript   []TranscriptEntry

	statusHub     *hub.Hub
	transcriptHub *hub.Hub

	// OnSpeak, when set, lets the dashboard push text into the room's
	// synthesis queue.
	OnSpeak func(text string) error
}

// NewServer creates a dashboard bound to one hosted space.
func NewServer(port string, sp *space.Space, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		port:          port,
		log:           logger.With("component", "web"),
		space:         sp,
		transcript:    make([]TranscriptEntry, 0, maxTranscriptEntries),
		statusHub:     hub.New("status", logger),
		transcriptHub: hub.New("transcript", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Spaces Dashboard",
		DisableStartupMessage: true,
	})

	app.Use(cors.New())
	app.Static("/", "./web")

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleGetTranscript)
	api.Post("/speak", s.handleSpeak)
	api.Post("/react/:emoji", s.handleReact)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/transcript", websocket.New(s.handleTranscriptWS))

	s.app = app
	return s
}

// Start runs the server. Blocks until Shutdown.
func (s *Server) Start() error {
	go s.statusHub.Run()
	go s.transcriptHub.Run()
	s.log.Info("dashboard listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// StartAsync runs the server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.log.Error("dashboard server failed", "error", err)
		}
	}()
}

// BroadcastStatus pushes the space's current snapshot to every status
// subscriber. Call it whenever room state changes.
func (s *Server) BroadcastStatus() {
	if err := s.statusHub.BroadcastJSON(s.space.Snapshot()); err != nil {
		s.log.Warn("status broadcast failed", "error", err)
	}
}

// AddTranscript appends a transcript line and streams it to subscribers.
func (s *Server) AddTranscript(role, userID, message string) {
	entry := TranscriptEntry{
		Time:    time.Now().Format("15:04:05"),
		Role:    role,
		UserID:  userID,
		Message: message,
	}

	s.transcriptMu.Lock()
	s.transcript = append(s.transcript, entry)
	if len(s.transcript) > maxTranscriptEntries {
		s.transcript = s.transcript[1:]
	}
	s.transcriptMu.Unlock()

	if err := s.transcriptHub.BroadcastJSON(entry); err != nil {
		s.log.Warn("transcript broadcast failed", "error", err)
	}
}

// Shutdown stops the server and both hubs.
func (s *Server) Shutdown() error {
	err := s.app.Shutdown()
	s.statusHub.Stop()
	s.transcriptHub.Stop()
	return err
}
