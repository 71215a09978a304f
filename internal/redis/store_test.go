package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/rtc-coordinator/config"
	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/room"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewStore(client, logger.NewFactory("off"))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatal(err)
	}

	s, err := Connect(context.Background(), config.RedisConfig{Host: host, Port: port}, logger.NewFactory("off"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s.Close()

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Connect(ctx, config.RedisConfig{Host: host, Port: port}, nil); err == nil {
		t.Error("Connect to a stopped server should fail")
	}
}

func TestSaveAndGetRoom(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRoom(ctx, "R1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRoom on empty store = %v", err)
	}

	meta := models.RoomMetadata{ID: "R1", CreatorID: "alice", Capacity: 10, CreatedAt: time.Now().UTC()}
	if err := s.SaveRoom(ctx, meta); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRoom(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	if got.CreatorID != "alice" || got.Capacity != 10 || got.PeerCount != 0 {
		t.Errorf("GetRoom = %+v", got)
	}
	if ttl := mr.TTL("room:R1"); ttl != config.RoomTTL {
		t.Errorf("ttl = %s", ttl)
	}
}

func TestSyncRoomKeepsCreator(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveRoom(ctx, models.RoomMetadata{ID: "R1", CreatorID: "alice", Capacity: 10}); err != nil {
		t.Fatal(err)
	}

	info := room.Info{
		ID:     "R1",
		HostID: "a",
		Peers:  []models.PeerInfo{{ID: "a", Nickname: "A"}, {ID: "b", Nickname: "B"}},
	}
	if err := s.SyncRoom(ctx, info); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRoom(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	if got.CreatorID != "alice" || got.HostID != "a" || got.PeerCount != 2 || len(got.Peers) != 2 {
		t.Errorf("after sync = %+v", got)
	}
	if ok, _ := mr.SIsMember("room:R1:peers", "b"); !ok {
		t.Error("b missing from the presence set")
	}

	// A later sync replaces the set rather than accumulating.
	info.Peers = info.Peers[:1]
	if err := s.SyncRoom(ctx, info); err != nil {
		t.Fatal(err)
	}
	peers, err := s.peerIDs(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 || peers[0] != "a" {
		t.Errorf("peers = %v", peers)
	}

	// An empty room keeps its record but loses the set.
	info.Peers = nil
	if err := s.SyncRoom(ctx, info); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("room:R1:peers") {
		t.Error("empty room should have no presence set")
	}
}

func TestSyncRoomRacingSave(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const rooms = 50
	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		id := fmt.Sprintf("R%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			info := room.Info{ID: id, Peers: []models.PeerInfo{{ID: "a", Nickname: "A"}}}
			if err := s.SyncRoom(ctx, info); err != nil {
				t.Errorf("sync %s: %v", id, err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := s.SaveRoom(ctx, models.RoomMetadata{ID: id, CreatorID: "alice", Capacity: 10}); err != nil {
				t.Errorf("save %s: %v", id, err)
			}
		}()
	}
	wg.Wait()

	// Whichever write lands last, the creator survives.
	for i := 0; i < rooms; i++ {
		id := fmt.Sprintf("R%d", i)
		got, err := s.GetRoom(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.CreatorID != "alice" || got.Capacity != 10 {
			t.Errorf("%s = %+v", id, got)
		}
	}
}

func TestRemoveRoom(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	info := room.Info{ID: "R1", Peers: []models.PeerInfo{{ID: "a"}}}
	if err := s.SyncRoom(ctx, info); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveRoom(ctx, "R1"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("room:R1") || mr.Exists("room:R1:peers") {
		t.Error("keys left behind")
	}
	if err := s.RemoveRoom(ctx, "R1"); err != nil {
		t.Errorf("removing twice: %v", err)
	}
}

func TestStoreErrorsSurface(t *testing.T) {
	s, mr := newTestStore(t)
	mr.SetError("LOADING")

	if err := s.SyncRoom(context.Background(), room.Info{ID: "R1"}); err == nil {
		t.Error("SyncRoom should report server errors")
	}
	if _, err := s.PeerCount(context.Background(), "R1"); err == nil {
		t.Error("PeerCount should report server errors")
	}
}
