package space

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/teslashibe/go-spaces/internal/httpc"
)

// AdminClient calls the room's management REST endpoints: speaker approval
// and removal, request submission, and ending the room. It is bound to one
// room at construction.
type AdminClient struct {
	baseURL string
	token   string
	roomID  string
	client  *http.Client
	log     *slog.Logger
}

// NewAdminClient creates a management client for one room. The token is
// sent as a bearer-style Authorization header on every call.
func NewAdminClient(baseURL, token, roomID string, logger *slog.Logger) *AdminClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminClient{
		baseURL: baseURL,
		token:   token,
		roomID:  roomID,
		client:  httpc.Client,
		log:     logger.With("component", "admin"),
	}
}

type adminRequest struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id,omitempty"`
	SessionUUID string `json:"session_uuid,omitempty"`
}

type speakerRequestResponse struct {
	SessionUUID string `json:"session_uuid"`
}

// ApproveSpeaker grants a queued admission request.
func (a *AdminClient) ApproveSpeaker(ctx context.Context, userID, sessionUUID string) error {
	return a.post(ctx, "/approve-speaker", adminRequest{RoomID: a.roomID, UserID: userID, SessionUUID: sessionUUID}, nil)
}

// RemoveSpeaker ejects an active speaker.
func (a *AdminClient) RemoveSpeaker(ctx context.Context, userID, sessionUUID string) error {
	return a.post(ctx, "/remove-speaker", adminRequest{RoomID: a.roomID, UserID: userID, SessionUUID: sessionUUID}, nil)
}

// EndSpace ends the room for everyone.
func (a *AdminClient) EndSpace(ctx context.Context) error {
	return a.post(ctx, "/end-space", adminRequest{RoomID: a.roomID}, nil)
}

// RequestSpeaker submits a speaker request and returns the correlation id
// that later admission events will carry.
func (a *AdminClient) RequestSpeaker(ctx context.Context, userID string) (string, error) {
	var resp speakerRequestResponse
	if err := a.post(ctx, "/request-speaker", adminRequest{RoomID: a.roomID, UserID: userID}, &resp); err != nil {
		return "", err
	}
	if resp.SessionUUID == "" {
		return "", fmt.Errorf("request-speaker: response carried no session uuid")
	}
	return resp.SessionUUID, nil
}

// CancelSpeakerRequest withdraws a pending request.
func (a *AdminClient) CancelSpeakerRequest(ctx context.Context, sessionUUID string) error {
	return a.post(ctx, "/cancel-speaker-request", adminRequest{RoomID: a.roomID, SessionUUID: sessionUUID}, nil)
}

func (a *AdminClient) post(ctx context.Context, path string, payload adminRequest, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("admin %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("admin %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("admin %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("admin %s: status %d: %s", path, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("admin %s: decode response: %w", path, err)
		}
	}
	return nil
}
