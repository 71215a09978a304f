package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mossy-p/rtc-coordinator/internal/models"
)

// APIError is a non-2xx answer from the room API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// Admin calls the HTTP room API.
type Admin struct {
	base  string
	token string
	http  *http.Client
}

func NewAdmin(server, token string) *Admin {
	return &Admin{
		base:  strings.TrimSuffix(server, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Login obtains a token and keeps it for later calls.
func (a *Admin) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return "", err
	}
	a.token = resp.Token
	return resp.Token, nil
}

func (a *Admin) ListRooms(ctx context.Context) ([]models.RoomMetadata, error) {
	var resp models.RoomListResponse
	if err := a.do(ctx, http.MethodGet, "/api/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (a *Admin) GetRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error) {
	var meta models.RoomMetadata
	if err := a.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// CreateRoom creates roomID, or a room with a generated id when empty.
func (a *Admin) CreateRoom(ctx context.Context, roomID string) (string, error) {
	var resp models.CreateRoomResponse
	if err := a.do(ctx, http.MethodPost, "/api/rooms", models.CreateRoomRequest{RoomID: roomID}, &resp); err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (a *Admin) DeleteRoom(ctx context.Context, roomID string) error {
	return a.do(ctx, http.MethodDelete, "/api/rooms/"+url.PathEscape(roomID), nil, nil)
}

func (a *Admin) RemovePeer(ctx context.Context, roomID, peerID string) error {
	path := "/api/rooms/" + url.PathEscape(roomID) + "/peers/" + url.PathEscape(peerID)
	return a.do(ctx, http.MethodDelete, path, nil, nil)
}

func (a *Admin) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
