package room

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
)

// DefaultCapacity is the maximum number of concurrent peers per room.
const DefaultCapacity = 10

// AdmitFunc runs inside the room's critical section right after peer was
// inserted. others holds every other member, in join order.
type AdmitFunc func(peer *Peer, others []*Peer)

// DepartFunc runs inside the room's critical section right after a
// membership change removed peers.
type DepartFunc func(d Departure)

// Departure describes the outcome of a leave or delete.
type Departure struct {
	RoomID string

	// Peer is the member that left. Nil for an administrative delete.
	Peer *Peer

	// Closed is set when the room was torn down. Remaining then lists the
	// members that were detached along with it.
	Closed    bool
	Remaining []*Peer
}

// Info is a snapshot of a room.
type Info struct {
	ID        string
	HostID    string
	HostState HostState
	CreatedAt time.Time
	Peers     []models.PeerInfo
}

// Room is a named scope for peers. All fields are guarded by mu.
type Room struct {
	id        string
	createdAt time.Time

	mu    sync.RWMutex
	peers map[string]*Peer
	host  hostPolicy
	seq   uint64
}

func newRoom(id string) *Room {
	return &Room{
		id:        id,
		createdAt: time.Now(),
		peers:     make(map[string]*Peer),
	}
}

func (rm *Room) sortedPeersLocked() []*Peer {
	out := make([]*Peer, 0, len(rm.peers))
	for _, p := range rm.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (rm *Room) infoLocked() Info {
	info := Info{
		ID:        rm.id,
		HostState: rm.host.state,
		CreatedAt: rm.createdAt,
	}
	info.HostID, _ = rm.host.host()
	for _, p := range rm.sortedPeersLocked() {
		info.Peers = append(info.Peers, p.Info())
	}
	return info
}

// View is a read-only look at a room while its read lock is held.
type View struct {
	room *Room
}

func (v View) ID() string { return v.room.id }

// Peers returns the members in join order.
func (v View) Peers() []*Peer { return v.room.sortedPeersLocked() }

func (v View) Peer(id string) (*Peer, bool) {
	p, ok := v.room.peers[id]
	return p, ok
}

func (v View) Host() (string, bool) { return v.room.host.host() }

// Registry maps room ids to rooms. The registry lock only guards the map;
// membership changes serialize on each room's own lock, so unrelated rooms
// never contend. Lock order is room, then registry.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	capacity int
	log      logging.LeveledLogger
}

// NewRegistry creates a registry. capacity <= 0 selects DefaultCapacity.
func NewRegistry(capacity int, lf logging.LoggerFactory) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		capacity: capacity,
		log:      logger.OrDefault(lf).NewLogger("registry"),
	}
}

func (r *Registry) Capacity() int { return r.capacity }

// CreateRoom allocates an empty room. It is a no-op if the room exists and
// reports whether a room was created.
func (r *Registry) CreateRoom(roomID string) (bool, error) {
	if roomID == "" {
		return false, ErrInvalidRoomID
	}
	_, created := r.getOrCreate(roomID)
	return created, nil
}

func (r *Registry) getOrCreate(roomID string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[roomID]; ok {
		return rm, false
	}
	rm := newRoom(roomID)
	r.rooms[roomID] = rm
	r.log.Infof("Created new room: %s", roomID)
	return rm, true
}

func (r *Registry) lookup(roomID string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// unlinkLocked removes rm from the map if it is still the registered room
// for its id. Caller holds rm.mu.
func (r *Registry) unlinkLocked(rm *Room) {
	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
}

// JoinRoom admits conn into roomID, creating the room if needed. The first
// peer admitted into a room becomes its host for the room's lifetime.
// Notification of other members is left to onAdmit, which runs atomically
// with the insertion.
func (r *Registry) JoinRoom(roomID string, conn Conn, nickname string, onAdmit AdmitFunc) (*Peer, error) {
	if roomID == "" {
		return nil, ErrInvalidRoomID
	}

	for {
		rm, _ := r.getOrCreate(roomID)
		rm.mu.Lock()
		if rm.host.state == HostTornDown {
			// Lost a race with teardown; the id now maps to a fresh room.
			rm.mu.Unlock()
			continue
		}

		if _, exists := rm.peers[conn.ID()]; exists {
			rm.mu.Unlock()
			return nil, ErrAlreadyJoined
		}
		if len(rm.peers) >= r.capacity {
			rm.mu.Unlock()
			r.log.Infof("Peer %s rejected from room %s: %d/%d", conn.ID(), roomID, len(rm.peers), r.capacity)
			return nil, fmt.Errorf("room %s: %w", roomID, ErrRoomFull)
		}

		others := rm.sortedPeersLocked()
		rm.seq++
		peer := newPeer(roomID, conn, nickname)
		peer.seq = rm.seq
		rm.peers[peer.id] = peer
		if rm.host.admit(peer.id) {
			r.log.Infof("Peer %s is host of room %s", peer.id, roomID)
		}
		r.log.Infof("Peer %s joined room %s - %d/%d peers", peer.id, roomID, len(rm.peers), r.capacity)

		if onAdmit != nil {
			onAdmit(peer, others)
		}
		rm.mu.Unlock()
		return peer, nil
	}
}

// LeaveRoom removes peerID from roomID. It is a no-op, returning false, if
// the peer is not a member. When the peer is the host the room is torn
// down and every other member is detached with it.
func (r *Registry) LeaveRoom(roomID, peerID string, onDepart DepartFunc) (Departure, bool) {
	rm := r.lookup(roomID)
	if rm == nil {
		return Departure{}, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	peer, ok := rm.peers[peerID]
	if !ok {
		return Departure{}, false
	}
	delete(rm.peers, peerID)
	peer.detach()

	d := Departure{RoomID: roomID, Peer: peer}
	if rm.host.depart(peerID) {
		d.Closed = true
		d.Remaining = r.tearDownLocked(rm)
		r.log.Infof("Host %s left room %s, room deleted (%d peers detached)", peerID, roomID, len(d.Remaining))
	} else {
		d.Remaining = rm.sortedPeersLocked()
		r.log.Infof("Peer %s left room %s - %d/%d peers", peerID, roomID, len(rm.peers), r.capacity)
	}

	if onDepart != nil {
		onDepart(d)
	}
	return d, true
}

// DeleteRoom removes the room and detaches all of its members. It returns
// false if the room does not exist.
func (r *Registry) DeleteRoom(roomID string, onDelete DepartFunc) (Departure, bool) {
	rm := r.lookup(roomID)
	if rm == nil {
		return Departure{}, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.host.tearDown() {
		return Departure{}, false
	}
	d := Departure{RoomID: roomID, Closed: true}
	d.Remaining = r.tearDownLocked(rm)
	r.log.Infof("Room deleted: %s (%d peers detached)", roomID, len(d.Remaining))

	if onDelete != nil {
		onDelete(d)
	}
	return d, true
}

func (r *Registry) tearDownLocked(rm *Room) []*Peer {
	survivors := rm.sortedPeersLocked()
	for _, p := range survivors {
		p.detach()
	}
	rm.peers = make(map[string]*Peer)
	r.unlinkLocked(rm)
	return survivors
}

// View runs fn under the room's read lock. Membership cannot change while
// fn runs. It returns false if the room does not exist.
func (r *Registry) View(roomID string, fn func(View)) bool {
	rm := r.lookup(roomID)
	if rm == nil {
		return false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if rm.host.state == HostTornDown {
		return false
	}
	fn(View{room: rm})
	return true
}

// GetPeers returns the roster of roomID, empty if the room does not exist.
func (r *Registry) GetPeers(roomID string) []models.PeerInfo {
	var out []models.PeerInfo
	r.View(roomID, func(v View) {
		for _, p := range v.Peers() {
			out = append(out, p.Info())
		}
	})
	return out
}

// GetPeer returns the session of peerID in roomID.
func (r *Registry) GetPeer(roomID, peerID string) (*Peer, bool) {
	var (
		peer *Peer
		ok   bool
	)
	r.View(roomID, func(v View) {
		peer, ok = v.Peer(peerID)
	})
	return peer, ok
}

// GetConn returns the connection of peerID in roomID.
func (r *Registry) GetConn(roomID, peerID string) (Conn, bool) {
	peer, ok := r.GetPeer(roomID, peerID)
	if !ok {
		return nil, false
	}
	return peer.Conn(), true
}

// GetHost returns the host of roomID.
func (r *Registry) GetHost(roomID string) (string, bool) {
	var (
		host string
		ok   bool
	)
	r.View(roomID, func(v View) {
		host, ok = v.Host()
	})
	return host, ok
}

// GetRoom returns a snapshot of roomID.
func (r *Registry) GetRoom(roomID string) (Info, bool) {
	var info Info
	found := r.View(roomID, func(v View) {
		info = v.room.infoLocked()
	})
	return info, found
}

// ListRooms returns a snapshot of every live room, ordered by id.
func (r *Registry) ListRooms() []Info {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.RLock()
		if rm.host.state != HostTornDown {
			out = append(out, rm.infoLocked())
		}
		rm.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
