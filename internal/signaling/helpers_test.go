package signaling

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/room"
)

// fakeConn records every envelope queued for it.
type fakeConn struct {
	id string

	mu     sync.Mutex
	got    []models.Envelope
	closed bool
	notify chan struct{}
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, notify: make(chan struct{}, 1)}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(env models.Envelope) bool {
	f.mu.Lock()
	f.got = append(f.got, env)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) events(event string) []models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Envelope
	for _, env := range f.got {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeConn) all() []models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Envelope(nil), f.got...)
}

// waitFor blocks until an envelope matching pred has been sent.
func (f *fakeConn) waitFor(t *testing.T, what string, pred func(models.Envelope) bool) models.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		for _, env := range f.all() {
			if pred(env) {
				return env
			}
		}
		select {
		case <-f.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("%s: never received %s; got %+v", f.id, what, f.all())
			return models.Envelope{}
		}
	}
}

// response waits for the correlated response to request id.
func (f *fakeConn) response(t *testing.T, id string) models.Envelope {
	t.Helper()
	return f.waitFor(t, "response "+id, func(env models.Envelope) bool {
		return env.Event == models.EventResponse && env.ID == id
	})
}

func envelope(t *testing.T, event string, data any) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func request(t *testing.T, id, event string, data any) models.Envelope {
	t.Helper()
	env := envelope(t, event, data)
	env.ID = id
	return env
}

func decodeData(t *testing.T, env models.Envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode %s: %v (%s)", env.Event, err, env.Data)
	}
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	lf := logger.NewFactory("off")
	opts.LoggerFactory = lf
	c := NewCoordinator(room.NewRegistry(0, lf), opts)
	t.Cleanup(c.Close)
	return c
}

// connect opens a session and joins it to roomID in mesh mode.
func connect(t *testing.T, c *Coordinator, id, roomID string) (*fakeConn, *Session) {
	t.Helper()
	conn := newFakeConn(id)
	s := c.Connect(conn, "")
	if roomID != "" {
		c.Handle(s, envelope(t, models.EventJoin, models.JoinRequest{RoomID: roomID, Nickname: "nick-" + id}))
		if s.Peer() == nil {
			t.Fatalf("%s did not join %s: %+v", id, roomID, conn.all())
		}
	}
	return conn, s
}
