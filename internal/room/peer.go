package room

import (
	"fmt"
	"sync"

	"github.com/mossy-p/rtc-coordinator/internal/models"
)

// Conn is the outbound side of a live connection. Send must not block; it
// reports false when the message could not be queued.
type Conn interface {
	ID() string
	Send(env models.Envelope) bool
}

// Direction of a media-engine transport.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Handle references a producer or consumer held by the media engine.
// PeerID is the peer whose media flows through it; for a consumer that is
// the remote producer's owner.
type Handle struct {
	ID         string
	Kind       models.MediaKind
	PeerID     string
	ProducerID string
}

// Resources is everything a peer holds in the media engine.
type Resources struct {
	Consumers  []Handle
	Producers  []Handle
	Transports []string
}

func (r Resources) Empty() bool {
	return len(r.Consumers) == 0 && len(r.Producers) == 0 && len(r.Transports) == 0
}

// Peer is the session of one connection inside one room.
type Peer struct {
	id       string
	nickname string
	roomID   string
	conn     Conn
	seq      uint64

	mu         sync.Mutex
	detached   bool
	media      models.MediaStatus
	transports map[Direction]string
	connected  map[string]bool
	producers  map[string]Handle
	consumers  map[string]Handle
}

func newPeer(roomID string, conn Conn, nickname string) *Peer {
	return &Peer{
		id:         conn.ID(),
		nickname:   nickname,
		roomID:     roomID,
		conn:       conn,
		transports: make(map[Direction]string),
		connected:  make(map[string]bool),
		producers:  make(map[string]Handle),
		consumers:  make(map[string]Handle),
	}
}

func (p *Peer) ID() string       { return p.id }
func (p *Peer) Nickname() string { return p.nickname }
func (p *Peer) RoomID() string   { return p.roomID }
func (p *Peer) Conn() Conn       { return p.conn }

// Send queues env on the peer's connection.
func (p *Peer) Send(env models.Envelope) bool {
	return p.conn.Send(env)
}

func (p *Peer) Info() models.PeerInfo {
	return models.PeerInfo{ID: p.id, Nickname: p.nickname}
}

// Attached reports whether the peer is still a member of its room.
func (p *Peer) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.detached
}

func (p *Peer) detach() {
	p.mu.Lock()
	p.detached = true
	p.mu.Unlock()
}

func (p *Peer) Media() models.MediaStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.media
}

func (p *Peer) SetMedia(status models.MediaStatus) {
	p.mu.Lock()
	p.media = status
	p.mu.Unlock()
}

// Transport returns the transport id held for dir, if any.
func (p *Peer) Transport(dir Direction) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.transports[dir]
	return id, ok
}

// SetTransport records a transport. It returns false, leaving the existing
// one in place, if the peer is detached or already holds one for dir.
func (p *Peer) SetTransport(dir Direction, id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detached {
		return false
	}
	if _, ok := p.transports[dir]; ok {
		return false
	}
	p.transports[dir] = id
	return true
}

// ClaimTransport marks a transport as connected and returns its id. An
// empty id selects the transport still awaiting its connect. When both are
// waiting, the one already carrying media wins. Call ReleaseClaim if the
// connect then fails.
func (p *Peer) ClaimTransport(id string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id == "" {
		var err error
		if id, err = p.pendingTransportLocked(); err != nil {
			return "", err
		}
	} else if !p.ownsTransportLocked(id) {
		return "", fmt.Errorf("%w: %s", ErrTransportNotFound, id)
	}
	if p.connected[id] {
		return "", fmt.Errorf("%w: %s", ErrTransportConnected, id)
	}
	p.connected[id] = true
	return id, nil
}

// ReleaseClaim returns a claimed transport to the waiting state.
func (p *Peer) ReleaseClaim(id string) {
	p.mu.Lock()
	delete(p.connected, id)
	p.mu.Unlock()
}

func (p *Peer) pendingTransportLocked() (string, error) {
	send, hasSend := p.transports[DirectionSend]
	recv, hasRecv := p.transports[DirectionRecv]
	sendPending := hasSend && !p.connected[send]
	recvPending := hasRecv && !p.connected[recv]

	switch {
	case sendPending && recvPending:
		sendUsed, recvUsed := len(p.producers) > 0, len(p.consumers) > 0
		if recvUsed && !sendUsed {
			return recv, nil
		}
		if sendUsed && !recvUsed {
			return send, nil
		}
		return "", ErrAmbiguousTransport
	case sendPending:
		return send, nil
	case recvPending:
		return recv, nil
	}
	return "", ErrNoPendingTransport
}

func (p *Peer) ownsTransportLocked(id string) bool {
	for _, t := range p.transports {
		if t == id {
			return true
		}
	}
	return false
}

// AddProducer records h. It returns false if the peer is detached.
func (p *Peer) AddProducer(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detached {
		return false
	}
	p.producers[h.ID] = h
	return true
}

func (p *Peer) Producer(id string) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.producers[id]
	return h, ok
}

func (p *Peer) Producers() []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Handle, 0, len(p.producers))
	for _, h := range p.producers {
		out = append(out, h)
	}
	return out
}

// AddConsumer records h. It returns false if the peer is detached.
func (p *Peer) AddConsumer(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detached {
		return false
	}
	p.consumers[h.ID] = h
	return true
}

func (p *Peer) Consumer(id string) (Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.consumers[id]
	return h, ok
}

// RemoveConsumersFrom drops and returns every consumer reading media owned
// by peerID.
func (p *Peer) RemoveConsumersFrom(peerID string) []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Handle
	for id, h := range p.consumers {
		if h.PeerID == peerID {
			out = append(out, h)
			delete(p.consumers, id)
		}
	}
	return out
}

// TakeResources empties the peer's engine bookkeeping and returns what it
// held, so the caller can release it exactly once.
func (p *Peer) TakeResources() Resources {
	p.mu.Lock()
	defer p.mu.Unlock()
	var res Resources
	for _, h := range p.consumers {
		res.Consumers = append(res.Consumers, h)
	}
	for _, h := range p.producers {
		res.Producers = append(res.Producers, h)
	}
	for _, id := range p.transports {
		res.Transports = append(res.Transports, id)
	}
	p.consumers = make(map[string]Handle)
	p.producers = make(map[string]Handle)
	p.transports = make(map[Direction]string)
	p.connected = make(map[string]bool)
	return res
}
