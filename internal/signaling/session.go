package signaling

import (
	"encoding/json"
	"sync"

	"github.com/mossy-p/rtc-coordinator/internal/room"
)

// Session is the per-connection state the dispatch table hands to every
// handler. A session belongs to at most one room at a time.
type Session struct {
	conn  room.Conn
	token string

	mu      sync.Mutex
	peer    *room.Peer
	rtpCaps json.RawMessage
	closed  bool
}

func newSession(conn room.Conn, token string) *Session {
	return &Session{conn: conn, token: token}
}

func (s *Session) ID() string { return s.conn.ID() }

// Token is the opaque credential presented when the connection opened.
func (s *Session) Token() string { return s.token }

// Peer returns the session's room membership, or nil when it has none.
// A membership ended by someone else (host teardown, room deletion) is
// forgotten here.
func (s *Session) Peer() *room.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer != nil && !s.peer.Attached() {
		s.peer = nil
	}
	return s.peer
}

func (s *Session) RoomID() string {
	if p := s.Peer(); p != nil {
		return p.RoomID()
	}
	return ""
}

func (s *Session) attach(p *room.Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.peer != nil && s.peer.Attached() {
		return false
	}
	s.peer = p
	return true
}

func (s *Session) detach() *room.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.peer
	s.peer = nil
	s.rtpCaps = nil
	return p
}

// forget drops p if it is still the session's membership.
func (s *Session) forget(p *room.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == p {
		s.peer = nil
		s.rtpCaps = nil
	}
}

func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *Session) setRtpCapabilities(caps json.RawMessage) {
	s.mu.Lock()
	s.rtpCaps = caps
	s.mu.Unlock()
}

func (s *Session) rtpCapabilities() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtpCaps
}
