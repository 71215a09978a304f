package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/room"
	"github.com/mossy-p/rtc-coordinator/internal/signaling"
)

const testSecret = "handlers-secret"

type testServer struct {
	*httptest.Server
	coord *signaling.Coordinator
}

func newTestServer(t *testing.T, store RoomStore, maxPerSecond int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lf := logger.NewFactory("off")

	opts := signaling.Options{
		RequestTimeout: time.Second,
		LoggerFactory:  lf,
	}
	// Like the server binary, a store that can mirror presence does.
	if p, ok := store.(signaling.Presence); ok {
		opts.Presence = p
	}
	coord := signaling.NewCoordinator(room.NewRegistry(3, lf), opts)
	t.Cleanup(coord.Close)

	router := gin.New()
	Register(router, RouteConfig{
		Coordinator:          coord,
		Store:                store,
		JWTSecret:            testSecret,
		AllowedOrigins:       []string{"https://app.example"},
		MaxMessagesPerSecond: maxPerSecond,
		LoggerFactory:        lf,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, coord: coord}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = strings.NewReader(string(raw))
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func (s *testServer) login(t *testing.T, user string) string {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: user, Password: "x"})
	if status != http.StatusOK {
		t.Fatalf("login %s: %d %s", user, status, body)
	}
	var resp LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?token=opaque"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// next reads frames until one for event arrives.
func next(t *testing.T, conn *websocket.Conn, event string) models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
}

// recordingConn stands in for a websocket client joined directly through
// the coordinator.
type recordingConn struct {
	id string

	mu     sync.Mutex
	events []string
	closed bool
}

func (r *recordingConn) ID() string { return r.id }

func (r *recordingConn) Send(env models.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env.Event)
	return true
}

func (r *recordingConn) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recordingConn) snapshot() ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), r.closed
}
