package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-spaces/pkg/hub"
)

// handleStatus returns the space's current snapshot.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.space.Snapshot())
}

// handleGetTranscript returns the recent transcript buffer.
func (s *Server) handleGetTranscript(c *fiber.Ctx) error {
	s.transcriptMu.RLock()
	defer s.transcriptMu.RUnlock()
	return c.JSON(s.transcript)
}

// SpeakRequest is the body for pushing text into the room.
type SpeakRequest struct {
	Text string `json:"text"`
}

// handleSpeak queues dashboard-submitted text for synthesis.
func (s *Server) handleSpeak(c *fiber.Ctx) error {
	var req SpeakRequest
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must carry non-empty text",
		})
	}
	if s.OnSpeak == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "speech queue not configured",
		})
	}
	if err := s.OnSpeak(req.Text); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	s.AddTranscript("reply", "", req.Text)
	return c.JSON(fiber.Map{"queued": true})
}

// handleReact sends an emoji reaction through the room's control channel.
func (s *Server) handleReact(c *fiber.Ctx) error {
	emoji := c.Params("emoji")
	if emoji == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "emoji required",
		})
	}
	s.space.React(emoji)
	return c.JSON(fiber.Map{"sent": emoji})
}

// handleStatusWS streams snapshot updates. The current snapshot is sent on
// connect, then the hub takes over.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	c.WriteJSON(s.space.Snapshot())
	hub.NewClient(s.statusHub, c).Run()
}

// handleTranscriptWS streams transcript lines, replaying the buffer on
// connect.
func (s *Server) handleTranscriptWS(c *websocket.Conn) {
	s.transcriptMu.RLock()
	for _, entry := range s.transcript {
		c.WriteJSON(entry)
	}
	s.transcriptMu.RUnlock()
	hub.NewClient(s.transcriptHub, c).Run()
}
