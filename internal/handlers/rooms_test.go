package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/redis"
)

func newRedisStore(t *testing.T) *redis.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redis.NewStore(client, logger.NewFactory("off"))
}

func TestRoomLifecycle(t *testing.T) {
	srv := newTestServer(t, newRedisStore(t), 50)
	alice := srv.login(t, "alice")
	bob := srv.login(t, "bob")

	status, body := srv.do(t, http.MethodPost, "/api/rooms", alice, models.CreateRoomRequest{RoomID: "standup"})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}
	if status, _ := srv.do(t, http.MethodPost, "/api/rooms", alice, models.CreateRoomRequest{RoomID: "standup"}); status != http.StatusOK {
		t.Errorf("second create = %d, want 200", status)
	}

	status, body = srv.do(t, http.MethodGet, "/api/rooms/standup", "", nil)
	if status != http.StatusOK {
		t.Fatalf("get: %d %s", status, body)
	}
	var meta models.RoomMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.CreatorID != "alice" || meta.Capacity != 3 || meta.PeerCount != 0 {
		t.Errorf("metadata = %+v", meta)
	}

	status, body = srv.do(t, http.MethodGet, "/api/rooms", "", nil)
	var list models.RoomListResponse
	if err := json.Unmarshal(body, &list); err != nil || status != http.StatusOK {
		t.Fatalf("list: %d %s", status, body)
	}
	if len(list.Rooms) != 1 || list.Rooms[0].ID != "standup" {
		t.Errorf("rooms = %+v", list.Rooms)
	}

	if status, _ := srv.do(t, http.MethodDelete, "/api/rooms/standup", bob, nil); status != http.StatusForbidden {
		t.Errorf("delete by non-creator = %d, want 403", status)
	}
	if status, _ := srv.do(t, http.MethodDelete, "/api/rooms/standup", alice, nil); status != http.StatusOK {
		t.Errorf("delete by creator = %d, want 200", status)
	}
	if status, _ := srv.do(t, http.MethodGet, "/api/rooms/standup", "", nil); status != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", status)
	}
	if status, _ := srv.do(t, http.MethodDelete, "/api/rooms/standup", alice, nil); status != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", status)
	}
}

func TestCreateRoomGeneratesID(t *testing.T) {
	srv := newTestServer(t, nil, 50)
	token := srv.login(t, "alice")

	if status, _ := srv.do(t, http.MethodPost, "/api/rooms", "", nil); status != http.StatusUnauthorized {
		t.Errorf("anonymous create = %d, want 401", status)
	}

	status, body := srv.do(t, http.MethodPost, "/api/rooms", token, nil)
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}
	var resp models.CreateRoomResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RoomID == "" {
		t.Fatal("empty room id")
	}
	if _, ok := srv.coord.Registry().GetRoom(resp.RoomID); !ok {
		t.Errorf("room %s not in registry", resp.RoomID)
	}
}

func TestCreateRoomAfterTeardown(t *testing.T) {
	store := newRedisStore(t)
	srv := newTestServer(t, store, 50)
	token := srv.login(t, "alice")

	const rounds = 20
	for i := 0; i < rounds; i++ {
		roomID := fmt.Sprintf("reused-%d", i)

		// The last member leaving queues a sync that removes the record.
		s := srv.coord.Connect(&recordingConn{id: fmt.Sprintf("guest-%d", i)}, "")
		env, _ := models.NewEnvelope(models.EventJoin, models.JoinRequest{RoomID: roomID, Nickname: "guest"})
		srv.coord.Handle(s, env)
		srv.coord.Disconnect(s)

		if status, body := srv.do(t, http.MethodPost, "/api/rooms", token, models.CreateRoomRequest{RoomID: roomID}); status != http.StatusCreated {
			t.Fatalf("create %s: %d %s", roomID, status, body)
		}
	}

	// Close drains every queued sync.
	srv.coord.Close()
	for i := 0; i < rounds; i++ {
		roomID := fmt.Sprintf("reused-%d", i)
		meta, err := store.GetRoom(context.Background(), roomID)
		if err != nil {
			t.Fatalf("record of %s: %v", roomID, err)
		}
		if meta.CreatorID != "alice" {
			t.Errorf("%s creator = %q", roomID, meta.CreatorID)
		}
	}
}

type failingStore struct{}

func (failingStore) SaveRoom(context.Context, models.RoomMetadata) error {
	return errors.New("store unavailable")
}

func (failingStore) GetRoom(context.Context, string) (*models.RoomMetadata, error) {
	return nil, redis.ErrNotFound
}

func TestCreateRoomRollsBackOnStoreFailure(t *testing.T) {
	srv := newTestServer(t, failingStore{}, 50)
	token := srv.login(t, "alice")

	if status, _ := srv.do(t, http.MethodPost, "/api/rooms", token, models.CreateRoomRequest{RoomID: "doomed"}); status != http.StatusInternalServerError {
		t.Fatalf("create = %d, want 500", status)
	}
	if _, ok := srv.coord.Registry().GetRoom("doomed"); ok {
		t.Error("room left in the registry after a failed save")
	}
}

func TestRemovePeer(t *testing.T) {
	srv := newTestServer(t, nil, 50)
	token := srv.login(t, "alice")

	conn := &recordingConn{id: "guest"}
	s := srv.coord.Connect(conn, "")
	env, _ := models.NewEnvelope(models.EventJoin, models.JoinRequest{RoomID: "r", Nickname: "guest"})
	srv.coord.Handle(s, env)

	if status, body := srv.do(t, http.MethodDelete, "/api/rooms/r/peers/guest", token, nil); status != http.StatusOK {
		t.Fatalf("remove: %d %s", status, body)
	}
	events, closed := conn.snapshot()
	if !slices.Contains(events, models.EventRemoved) || !closed {
		t.Errorf("events = %v closed = %v", events, closed)
	}
	if status, _ := srv.do(t, http.MethodDelete, "/api/rooms/r/peers/guest", token, nil); status != http.StatusNotFound {
		t.Errorf("second remove = %d, want 404", status)
	}
}

func TestOriginFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(OriginFilter([]string{"https://app.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name, method, origin string
		status               int
		cors                 bool
	}{
		{"no origin", http.MethodGet, "", http.StatusOK, false},
		{"allowed", http.MethodGet, "https://app.example", http.StatusOK, true},
		{"preflight", http.MethodOptions, "https://app.example", http.StatusNoContent, true},
		{"foreign", http.MethodGet, "https://evil.example", http.StatusForbidden, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/x", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin") != ""; got != tt.cors {
				t.Errorf("cors headers = %v, want %v", got, tt.cors)
			}
		})
	}

	wild := gin.New()
	wild.Use(OriginFilter([]string{"*"}))
	wild.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://anything.example")
	w := httptest.NewRecorder()
	wild.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("wildcard status = %d", w.Code)
	}
}
