package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent []models.Envelope
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env models.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return true
}

func newTestRegistry(capacity int) *Registry {
	return NewRegistry(capacity, logger.NewFactory("off"))
}

func peerIDs(infos []models.PeerInfo) []string {
	ids := make([]string, 0, len(infos))
	for _, p := range infos {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestCreateRoomIsIdempotent(t *testing.T) {
	reg := newTestRegistry(0)

	created, err := reg.CreateRoom("r1")
	if err != nil || !created {
		t.Fatalf("CreateRoom = %v, %v; want true, nil", created, err)
	}
	created, err = reg.CreateRoom("r1")
	if err != nil || created {
		t.Fatalf("second CreateRoom = %v, %v; want false, nil", created, err)
	}
	if _, err := reg.CreateRoom(""); !errors.Is(err, ErrInvalidRoomID) {
		t.Errorf("CreateRoom(\"\") error = %v, want ErrInvalidRoomID", err)
	}
	if got := len(reg.ListRooms()); got != 1 {
		t.Errorf("expected 1 room, got %d", got)
	}
}

func TestFirstPeerIsHost(t *testing.T) {
	reg := newTestRegistry(0)

	if _, err := reg.JoinRoom("r1", &fakeConn{id: "a"}, "alice", nil); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, err := reg.JoinRoom("r1", &fakeConn{id: "b"}, "bob", nil); err != nil {
		t.Fatalf("join b: %v", err)
	}

	host, ok := reg.GetHost("r1")
	if !ok || host != "a" {
		t.Errorf("GetHost = %q, %v; want a, true", host, ok)
	}

	// A non-host leaving never moves the host.
	reg.LeaveRoom("r1", "b", nil)
	if host, _ := reg.GetHost("r1"); host != "a" {
		t.Errorf("host changed to %q after non-host left", host)
	}
}

func TestJoinAtCapacity(t *testing.T) {
	reg := newTestRegistry(2)
	for _, id := range []string{"a", "b"} {
		if _, err := reg.JoinRoom("r1", &fakeConn{id: id}, id, nil); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	admitted := false
	_, err := reg.JoinRoom("r1", &fakeConn{id: "c"}, "c", func(*Peer, []*Peer) { admitted = true })
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	if admitted {
		t.Error("onAdmit ran for a rejected join")
	}
	if got := peerIDs(reg.GetPeers("r1")); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("peer set mutated by rejected join: %v", got)
	}
}

func TestDefaultCapacityIsTen(t *testing.T) {
	reg := newTestRegistry(0)
	for i := 0; i < DefaultCapacity; i++ {
		if _, err := reg.JoinRoom("r1", &fakeConn{id: fmt.Sprintf("p%d", i)}, "", nil); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if _, err := reg.JoinRoom("r1", &fakeConn{id: "extra"}, "", nil); !errors.Is(err, ErrRoomFull) {
		t.Errorf("11th join error = %v, want ErrRoomFull", err)
	}
}

func TestJoinTwice(t *testing.T) {
	reg := newTestRegistry(0)
	conn := &fakeConn{id: "a"}
	if _, err := reg.JoinRoom("r1", conn, "alice", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.JoinRoom("r1", conn, "alice", nil); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestAdmitSeesOthersInJoinOrder(t *testing.T) {
	reg := newTestRegistry(0)
	for _, id := range []string{"a", "b", "c"} {
		reg.JoinRoom("r1", &fakeConn{id: id}, id, nil)
	}

	var others []string
	reg.JoinRoom("r1", &fakeConn{id: "d"}, "d", func(p *Peer, o []*Peer) {
		if p.ID() != "d" {
			t.Errorf("admitted peer = %s, want d", p.ID())
		}
		for _, peer := range o {
			others = append(others, peer.ID())
		}
	})
	if fmt.Sprint(others) != "[a b c]" {
		t.Errorf("others = %v, want [a b c]", others)
	}
}

func TestLeaveNonHost(t *testing.T) {
	reg := newTestRegistry(0)
	reg.JoinRoom("r1", &fakeConn{id: "a"}, "alice", nil)
	b, _ := reg.JoinRoom("r1", &fakeConn{id: "b"}, "bob", nil)
	reg.JoinRoom("r1", &fakeConn{id: "c"}, "carol", nil)

	d, ok := reg.LeaveRoom("r1", "b", nil)
	if !ok {
		t.Fatal("expected leave to succeed")
	}
	if d.Closed {
		t.Error("non-host leave closed the room")
	}
	if d.Peer != b || b.Attached() {
		t.Error("departed peer should be returned and detached")
	}
	if fmt.Sprint(peerIDs(reg.GetPeers("r1"))) != "[a c]" {
		t.Errorf("peers after leave = %v", reg.GetPeers("r1"))
	}
	if len(d.Remaining) != 2 {
		t.Errorf("remaining = %d, want 2", len(d.Remaining))
	}

	// Duplicate disconnects are harmless.
	if _, ok := reg.LeaveRoom("r1", "b", nil); ok {
		t.Error("second leave should be a no-op")
	}
	if _, ok := reg.LeaveRoom("missing", "b", nil); ok {
		t.Error("leave of unknown room should be a no-op")
	}
}

func TestHostLeaveTearsDownRoom(t *testing.T) {
	reg := newTestRegistry(0)
	reg.JoinRoom("r1", &fakeConn{id: "a"}, "alice", nil)
	b, _ := reg.JoinRoom("r1", &fakeConn{id: "b"}, "bob", nil)

	var hooked Departure
	d, ok := reg.LeaveRoom("r1", "a", func(d Departure) { hooked = d })
	if !ok || !d.Closed {
		t.Fatalf("host leave = %+v, %v; want closed", d, ok)
	}
	if !hooked.Closed || len(hooked.Remaining) != 1 || hooked.Remaining[0] != b {
		t.Errorf("hook saw %+v", hooked)
	}
	if b.Attached() {
		t.Error("survivor should be detached on teardown")
	}
	if _, ok := reg.GetRoom("r1"); ok {
		t.Error("room should not exist after host left")
	}
	if peers := reg.GetPeers("r1"); len(peers) != 0 {
		t.Errorf("GetPeers after teardown = %v", peers)
	}
	if _, ok := reg.GetHost("r1"); ok {
		t.Error("GetHost should report absent after teardown")
	}
	if _, ok := reg.LeaveRoom("r1", "b", nil); ok {
		t.Error("leave after teardown should be a no-op")
	}
}

func TestRoomIDReuseStartsFreshLifecycle(t *testing.T) {
	reg := newTestRegistry(0)
	reg.JoinRoom("R1", &fakeConn{id: "a"}, "a", nil)
	reg.JoinRoom("R1", &fakeConn{id: "b"}, "b", nil)
	reg.LeaveRoom("R1", "a", nil)

	if _, err := reg.JoinRoom("R1", &fakeConn{id: "a2"}, "a2", nil); err != nil {
		t.Fatal(err)
	}
	info, ok := reg.GetRoom("R1")
	if !ok {
		t.Fatal("expected new room")
	}
	if info.HostID != "a2" || info.HostState != HostAssigned {
		t.Errorf("new room host = %q (%s), want a2 (assigned)", info.HostID, info.HostState)
	}
	if fmt.Sprint(peerIDs(info.Peers)) != "[a2]" {
		t.Errorf("new room peers = %v", info.Peers)
	}
}

func TestDeleteRoom(t *testing.T) {
	reg := newTestRegistry(0)
	reg.JoinRoom("r1", &fakeConn{id: "a"}, "a", nil)
	reg.JoinRoom("r1", &fakeConn{id: "b"}, "b", nil)

	d, ok := reg.DeleteRoom("r1", nil)
	if !ok || !d.Closed || d.Peer != nil || len(d.Remaining) != 2 {
		t.Fatalf("DeleteRoom = %+v, %v", d, ok)
	}
	if _, ok := reg.DeleteRoom("r1", nil); ok {
		t.Error("second delete should report false")
	}

	// An empty, never-joined room can be deleted too.
	reg.CreateRoom("empty")
	if _, ok := reg.DeleteRoom("empty", nil); !ok {
		t.Error("expected delete of empty room to succeed")
	}
}

func TestReadsOnMissingRoom(t *testing.T) {
	reg := newTestRegistry(0)
	if peers := reg.GetPeers("nope"); len(peers) != 0 {
		t.Errorf("GetPeers = %v", peers)
	}
	if _, ok := reg.GetConn("nope", "x"); ok {
		t.Error("GetConn should be absent")
	}
	if _, ok := reg.GetHost("nope"); ok {
		t.Error("GetHost should be absent")
	}
	reg.CreateRoom("r1")
	if _, ok := reg.GetConn("r1", "x"); ok {
		t.Error("GetConn for unknown peer should be absent")
	}
	if _, ok := reg.GetHost("r1"); ok {
		t.Error("unjoined room should have no host")
	}
}

func TestGetConn(t *testing.T) {
	reg := newTestRegistry(0)
	conn := &fakeConn{id: "a"}
	reg.JoinRoom("r1", conn, "alice", nil)
	got, ok := reg.GetConn("r1", "a")
	if !ok || got != conn {
		t.Errorf("GetConn = %v, %v", got, ok)
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	reg := newTestRegistry(5)
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := reg.JoinRoom("r1", &fakeConn{id: fmt.Sprintf("p%d", i)}, "", nil); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if admitted != 5 {
		t.Errorf("admitted %d peers, want 5", admitted)
	}
	if got := len(reg.GetPeers("r1")); got != 5 {
		t.Errorf("GetPeers returned %d, want 5", got)
	}
}
