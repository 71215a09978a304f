// Package signaling dispatches connection events to the room registry, the
// relay router and the media engine.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/mossy-p/rtc-coordinator/internal/engine"
	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/room"
	"github.com/mossy-p/rtc-coordinator/internal/rpc"
)

// HandlerFunc handles one inbound event. For a correlated request the
// returned value or error becomes the response.
type HandlerFunc func(ctx context.Context, s *Session, env models.Envelope) (any, error)

type handler struct {
	fn HandlerFunc

	// async handlers talk to the media engine. They run on their own
	// goroutine under the request timeout so they never hold up relays.
	async bool
}

// Options configures a Coordinator.
type Options struct {
	// Engine enables routed mode. Nil leaves only mesh mode.
	Engine engine.Engine

	// Presence, if set, receives room snapshots after every membership change.
	Presence Presence

	// RequestTimeout bounds each media-engine request. Defaults to rpc.DefaultTimeout.
	RequestTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Coordinator owns the dispatch table and the lifecycle of sessions.
type Coordinator struct {
	registry *room.Registry
	router   *Router
	fanout   *Fanout
	engine   engine.Engine
	presence *presenceSync
	timeout  time.Duration
	log      logging.LeveledLogger

	handlers map[string]handler

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewCoordinator(registry *room.Registry, opts Options) *Coordinator {
	lf := logger.OrDefault(opts.LoggerFactory)
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = rpc.DefaultTimeout
	}

	c := &Coordinator{
		registry: registry,
		router:   NewRouter(registry, lf),
		fanout:   NewFanout(lf),
		engine:   opts.Engine,
		timeout:  timeout,
		log:      lf.NewLogger("signaling"),
		sessions: make(map[string]*Session),
	}
	if opts.Presence != nil {
		c.presence = newPresenceSync(opts.Presence, registry, c.log)
	}

	c.handlers = map[string]handler{
		models.EventJoin:        {fn: c.handleJoin},
		models.EventLeave:       {fn: c.handleLeave},
		models.EventRTCMessage:  {fn: c.handleRTCMessage},
		models.EventChatMessage: {fn: c.handleChatMessage},

		models.EventGetRouterRtpCapabilities: {fn: c.handleRouterCapabilities, async: true},
		models.EventJoinRoom:                 {fn: c.handleJoinRoom, async: true},
		models.EventConnectTransport:         {fn: c.handleConnectTransport, async: true},
		models.EventProduce:                  {fn: c.handleProduce, async: true},
		models.EventConsume:                  {fn: c.handleConsume, async: true},
		models.EventResumeConsumer:           {fn: c.handleResumeConsumer, async: true},
	}
	return c
}

func (c *Coordinator) Registry() *room.Registry { return c.registry }

// Connect registers a new connection. token is the opaque credential the
// client presented; it is kept but not interpreted.
func (c *Coordinator) Connect(conn room.Conn, token string) *Session {
	s := newSession(conn, token)
	c.mu.Lock()
	c.sessions[s.ID()] = s
	c.mu.Unlock()
	c.log.Debugf("Client %s connected (token presented: %t)", s.ID(), s.Token() != "")
	return s
}

func (c *Coordinator) session(id string) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[id]
}

// Handle dispatches one inbound frame.
func (c *Coordinator) Handle(s *Session, env models.Envelope) {
	h, ok := c.handlers[env.Event]
	if !ok {
		c.reply(s, env, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event))
		return
	}
	if !h.async {
		data, err := h.fn(context.Background(), s, env)
		c.reply(s, env, data, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		data, err := h.fn(ctx, s, env)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s: %w", env.Event, rpc.ErrRequestTimeout)
		}
		c.reply(s, env, data, err)
	}()
}

func (c *Coordinator) reply(s *Session, env models.Envelope, data any, err error) {
	if env.ID != "" {
		s.conn.Send(models.Response(env.ID, data, err))
		return
	}
	if err == nil {
		return
	}
	c.log.Debugf("Event %s from %s failed: %v", env.Event, s.ID(), err)
	out, merr := models.NewEnvelope(models.EventError, models.ErrorInfo{Event: env.Event, Message: err.Error()})
	if merr != nil {
		return
	}
	s.conn.Send(out)
}

// Disconnect ends a session. It is safe to call more than once.
func (c *Coordinator) Disconnect(s *Session) {
	if !s.close() {
		return
	}
	c.mu.Lock()
	if c.sessions[s.ID()] == s {
		delete(c.sessions, s.ID())
	}
	c.mu.Unlock()

	if peer := s.detach(); peer != nil {
		c.depart(peer)
	}
	c.log.Debugf("Client %s disconnected", s.ID())
}

// Close stops background work. Sessions are left to their connections.
func (c *Coordinator) Close() {
	if c.presence != nil {
		c.presence.close()
	}
}

func decode(env models.Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s requires data", ErrInvalidPayload, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// join admits s into roomID and runs the membership fan-out. A rejected
// connection is sent room-full.
func (c *Coordinator) join(s *Session, roomID, nickname string) (*room.Peer, error) {
	if s.Peer() != nil {
		return nil, ErrAlreadyInRoom
	}

	peer, err := c.registry.JoinRoom(roomID, s.conn, nickname, c.fanout.Admitted)
	if err != nil {
		if errors.Is(err, room.ErrRoomFull) {
			full, _ := models.NewEnvelope(models.EventRoomFull, models.RoomNotice{RoomID: roomID})
			s.conn.Send(full)
		}
		return nil, err
	}

	if !s.attach(peer) {
		// The session closed or joined elsewhere while we were admitting it.
		c.depart(peer)
		return nil, ErrAlreadyInRoom
	}
	c.touch(roomID)
	return peer, nil
}

func (c *Coordinator) handleJoin(_ context.Context, s *Session, env models.Envelope) (any, error) {
	var req models.JoinRequest
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	if _, err := c.join(s, req.RoomID, req.Nickname); err != nil {
		if errors.Is(err, room.ErrRoomFull) && env.ID == "" {
			// room-full already told the client.
			return nil, nil
		}
		return nil, err
	}
	return nil, nil
}

func (c *Coordinator) handleLeave(_ context.Context, s *Session, _ models.Envelope) (any, error) {
	peer := s.detach()
	if peer == nil {
		return nil, ErrNotInRoom
	}
	c.depart(peer)
	return nil, nil
}

func (c *Coordinator) handleRTCMessage(_ context.Context, s *Session, env models.Envelope) (any, error) {
	var msg models.RTCMessage
	if err := decode(env, &msg); err != nil {
		return nil, err
	}
	if !msg.Event.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSignal, msg.Event)
	}
	peer := s.Peer()
	if peer == nil || (msg.RoomID != "" && msg.RoomID != peer.RoomID()) {
		return nil, ErrNotInRoom
	}

	if msg.Event == models.SignalTypeStatus {
		var status models.MediaStatus
		if err := json.Unmarshal(msg.Data, &status); err == nil {
			peer.SetMedia(status)
		}
	}

	var err error
	if msg.To != "" {
		_, err = c.router.RelayToPeer(peer.RoomID(), peer.ID(), msg.To, msg.Event, msg.Data)
	} else {
		_, err = c.router.RelayToRoom(peer.RoomID(), peer.ID(), msg.Event, msg.Data)
	}
	return nil, err
}

// handleChatMessage passes the payload through to the whole room, sender
// included, with roomId replaced by a from tag.
func (c *Coordinator) handleChatMessage(_ context.Context, s *Session, env models.Envelope) (any, error) {
	var fields map[string]json.RawMessage
	if err := decode(env, &fields); err != nil {
		return nil, err
	}
	peer := s.Peer()
	if peer == nil {
		return nil, ErrNotInRoom
	}
	if raw, ok := fields["roomId"]; ok {
		var roomID string
		if json.Unmarshal(raw, &roomID) == nil && roomID != peer.RoomID() {
			return nil, ErrNotInRoom
		}
		delete(fields, "roomId")
	}
	from, err := json.Marshal(peer.ID())
	if err != nil {
		return nil, err
	}
	fields["from"] = from

	out, err := models.NewEnvelope(models.EventChatMessage, fields)
	if err != nil {
		return nil, err
	}
	c.router.Broadcast(peer.RoomID(), out, "")
	return nil, nil
}

// depart removes peer from its room. Engine resources are released before
// the registry forgets the peer: first the consumers other members hold on
// its media, then its own consumers, producers and transports. When the
// peer is the host every member is released too, since the room goes with it.
func (c *Coordinator) depart(peer *room.Peer) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	roomID := peer.RoomID()
	hostID, _ := c.registry.GetHost(roomID)
	c.releaseConsumersOf(ctx, roomID, peer.ID())
	if hostID == peer.ID() {
		c.releaseMembers(ctx, roomID)
	} else {
		c.release(ctx, peer)
	}

	d, ok := c.registry.LeaveRoom(roomID, peer.ID(), c.fanout.Departed)
	// Anything registered while the leave was in flight.
	c.release(ctx, peer)
	if !ok {
		return
	}
	c.settle(ctx, d)
}

// settle finishes a departure once the registry has applied it.
func (c *Coordinator) settle(ctx context.Context, d room.Departure) {
	if d.Closed {
		for _, p := range d.Remaining {
			c.release(ctx, p)
			if s := c.session(p.ID()); s != nil {
				s.forget(p)
			}
		}
	} else if d.Peer != nil {
		for _, p := range d.Remaining {
			c.closeConsumers(ctx, p.RemoveConsumersFrom(d.Peer.ID()))
		}
	}
	c.touch(d.RoomID)
}

func (c *Coordinator) release(ctx context.Context, peer *room.Peer) {
	res := peer.TakeResources()
	if c.engine == nil || res.Empty() {
		return
	}
	if err := engine.Release(ctx, c.engine, res); err != nil {
		c.log.Warnf("Failed to release engine resources of %s: %v", peer.ID(), err)
	}
}

func (c *Coordinator) releaseMembers(ctx context.Context, roomID string) {
	var members []*room.Peer
	c.registry.View(roomID, func(v room.View) { members = v.Peers() })
	for _, p := range members {
		c.release(ctx, p)
	}
}

func (c *Coordinator) releaseConsumersOf(ctx context.Context, roomID, peerID string) {
	var handles []room.Handle
	c.registry.View(roomID, func(v room.View) {
		for _, p := range v.Peers() {
			if p.ID() != peerID {
				handles = append(handles, p.RemoveConsumersFrom(peerID)...)
			}
		}
	})
	c.closeConsumers(ctx, handles)
}

func (c *Coordinator) closeConsumers(ctx context.Context, handles []room.Handle) {
	if c.engine == nil || len(handles) == 0 {
		return
	}
	if err := engine.Release(ctx, c.engine, room.Resources{Consumers: handles}); err != nil {
		c.log.Warnf("Failed to close consumers: %v", err)
	}
}

func (c *Coordinator) touch(roomID string) {
	if c.presence != nil {
		c.presence.touch(roomID)
	}
}

// CreateRoom allocates roomID ahead of the first join.
func (c *Coordinator) CreateRoom(roomID string) (bool, error) {
	created, err := c.registry.CreateRoom(roomID)
	if err != nil {
		return false, err
	}
	c.touch(roomID)
	return created, nil
}

// DeleteRoom tears roomID down: engine resources of every member are
// released, survivors are told the room is closed and their sessions
// return to the lobby.
func (c *Coordinator) DeleteRoom(roomID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.releaseMembers(ctx, roomID)
	d, ok := c.registry.DeleteRoom(roomID, c.fanout.Departed)
	if !ok {
		return false
	}
	c.settle(ctx, d)
	return true
}

// RemovePeer evicts peerID from roomID as if its connection had dropped.
func (c *Coordinator) RemovePeer(roomID, peerID string) bool {
	peer, ok := c.registry.GetPeer(roomID, peerID)
	if !ok {
		return false
	}
	removed, err := models.NewEnvelope(models.EventRemoved, models.RoomNotice{RoomID: roomID})
	if err == nil {
		peer.Send(removed)
	}

	s := c.session(peerID)
	if s == nil {
		c.depart(peer)
		return true
	}
	c.Disconnect(s)
	if closer, ok := s.conn.(interface{ Close() }); ok {
		closer.Close()
	}
	return true
}
