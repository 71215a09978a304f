package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/room"
)

// Routed-mode handlers. Each runs on its own goroutine with a deadline and
// records the handles the engine returns on the peer, so they can be
// released when the peer goes away. A handle minted for a peer that left
// in the meantime is closed straight away.

func (c *Coordinator) routedPeer(s *Session) (*room.Peer, error) {
	if c.engine == nil {
		return nil, ErrNoMediaEngine
	}
	peer := s.Peer()
	if peer == nil {
		return nil, ErrNotInRoom
	}
	return peer, nil
}

func (c *Coordinator) handleRouterCapabilities(ctx context.Context, _ *Session, _ models.Envelope) (any, error) {
	if c.engine == nil {
		return nil, ErrNoMediaEngine
	}
	caps, err := c.engine.RouterCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	return models.RouterCapabilitiesResponse{RouterRtpCapabilities: caps}, nil
}

// handleJoinRoom admits the peer like a mesh join, then opens its send
// transport and lists the producers already in the room.
func (c *Coordinator) handleJoinRoom(ctx context.Context, s *Session, env models.Envelope) (any, error) {
	if c.engine == nil {
		return nil, ErrNoMediaEngine
	}
	var req models.JoinRoomRequest
	if err := decode(env, &req); err != nil {
		return nil, err
	}

	peer, err := c.join(s, req.RoomID, req.Nickname)
	if err != nil {
		return nil, err
	}
	if len(req.RtpCapabilities) > 0 {
		s.setRtpCapabilities(req.RtpCapabilities)
	}

	transport, err := c.engine.CreateTransport(ctx, peer.RoomID(), peer.ID(), room.DirectionSend)
	if err != nil {
		// Without a transport the membership is useless; let the client retry.
		s.forget(peer)
		c.depart(peer)
		return nil, err
	}
	if !peer.SetTransport(room.DirectionSend, transport.ID) {
		c.closeOrphan(transport.ID, c.engine.CloseTransport)
		return nil, ErrNotInRoom
	}

	resp := models.JoinRoomResponse{
		Transport: transport,
		Peers:     []models.PeerInfo{},
		Producers: []models.ProducerInfo{},
	}
	c.registry.View(peer.RoomID(), func(v room.View) {
		for _, p := range v.Peers() {
			if p.ID() == peer.ID() {
				continue
			}
			resp.Peers = append(resp.Peers, p.Info())
			for _, h := range p.Producers() {
				resp.Producers = append(resp.Producers, models.ProducerInfo{
					ProducerID: h.ID,
					PeerID:     p.ID(),
					Kind:       h.Kind,
				})
			}
		}
	})
	return resp, nil
}

func (c *Coordinator) handleConnectTransport(ctx context.Context, s *Session, env models.Envelope) (any, error) {
	peer, err := c.routedPeer(s)
	if err != nil {
		return nil, err
	}
	var req models.ConnectTransportRequest
	if err := decode(env, &req); err != nil {
		return nil, err
	}

	transportID, err := peer.ClaimTransport(req.TransportID)
	if errors.Is(err, room.ErrTransportNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, req.TransportID)
	}
	if err != nil {
		return nil, err
	}

	if err := c.engine.ConnectTransport(ctx, transportID, req.DtlsParameters); err != nil {
		peer.ReleaseClaim(transportID)
		return nil, err
	}
	return models.ConnectTransportResponse{TransportID: transportID}, nil
}

func (c *Coordinator) handleProduce(ctx context.Context, s *Session, env models.Envelope) (any, error) {
	peer, err := c.routedPeer(s)
	if err != nil {
		return nil, err
	}
	var req models.ProduceRequest
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidPayload, req.Kind)
	}

	transportID, ok := peer.Transport(room.DirectionSend)
	if !ok {
		return nil, ErrNoSendTransport
	}
	if req.TransportID != "" && req.TransportID != transportID {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, req.TransportID)
	}

	producerID, err := c.engine.Produce(ctx, transportID, req.Kind, req.RtpParameters)
	if err != nil {
		return nil, err
	}
	if !peer.AddProducer(room.Handle{ID: producerID, Kind: req.Kind, PeerID: peer.ID()}) {
		c.closeOrphan(producerID, c.engine.CloseProducer)
		return nil, ErrNotInRoom
	}

	announce, err := models.NewEnvelope(models.EventNewProducer, models.ProducerInfo{
		ProducerID: producerID,
		PeerID:     peer.ID(),
		Kind:       req.Kind,
	})
	if err == nil {
		c.router.Broadcast(peer.RoomID(), announce, peer.ID())
	}
	c.log.Infof("Peer %s is producing %s in room %s", peer.ID(), req.Kind, peer.RoomID())
	return models.ProduceResponse{ID: producerID}, nil
}

// handleConsume opens the peer's receive transport on first use and
// creates a paused consumer of another member's producer.
func (c *Coordinator) handleConsume(ctx context.Context, s *Session, env models.Envelope) (any, error) {
	peer, err := c.routedPeer(s)
	if err != nil {
		return nil, err
	}
	var req models.ConsumeRequest
	if err := decode(env, &req); err != nil {
		return nil, err
	}

	var (
		owner    string
		producer room.Handle
	)
	c.registry.View(peer.RoomID(), func(v room.View) {
		for _, p := range v.Peers() {
			if h, ok := p.Producer(req.ProducerID); ok {
				owner, producer = p.ID(), h
				return
			}
		}
	})
	switch owner {
	case "":
		return nil, fmt.Errorf("%w: %s", ErrUnknownProducer, req.ProducerID)
	case peer.ID():
		return nil, ErrOwnProducer
	}

	resp := models.ConsumeResponse{ProducerID: req.ProducerID}
	transportID, ok := peer.Transport(room.DirectionRecv)
	if !ok {
		info, err := c.engine.CreateTransport(ctx, peer.RoomID(), peer.ID(), room.DirectionRecv)
		if err != nil {
			return nil, err
		}
		if peer.SetTransport(room.DirectionRecv, info.ID) {
			transportID = info.ID
			resp.Transport = &info
		} else {
			// Lost a race with a concurrent consume, or the peer left.
			c.closeOrphan(info.ID, c.engine.CloseTransport)
			if transportID, ok = peer.Transport(room.DirectionRecv); !ok {
				return nil, ErrNotInRoom
			}
		}
	}

	caps := req.RtpCapabilities
	if len(caps) == 0 {
		caps = s.rtpCapabilities()
	}
	consumer, err := c.engine.Consume(ctx, transportID, req.ProducerID, caps)
	if err != nil {
		return nil, err
	}
	h := room.Handle{ID: consumer.ID, Kind: consumer.Kind, PeerID: owner, ProducerID: producer.ID}
	if !peer.AddConsumer(h) {
		c.closeOrphan(consumer.ID, c.engine.CloseConsumer)
		return nil, ErrNotInRoom
	}

	resp.ID = consumer.ID
	resp.Kind = consumer.Kind
	resp.RtpParameters = consumer.RtpParameters
	return resp, nil
}

func (c *Coordinator) handleResumeConsumer(ctx context.Context, s *Session, env models.Envelope) (any, error) {
	peer, err := c.routedPeer(s)
	if err != nil {
		return nil, err
	}
	var req models.ResumeConsumerRequest
	if err := decode(env, &req); err != nil {
		return nil, err
	}
	if _, ok := peer.Consumer(req.ConsumerID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConsumer, req.ConsumerID)
	}
	if err := c.engine.ResumeConsumer(ctx, req.ConsumerID); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

// closeOrphan closes a handle nobody will track. It gets a fresh deadline
// since the request's own may be nearly spent.
func (c *Coordinator) closeOrphan(id string, closeFn func(context.Context, string) error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := closeFn(ctx, id); err != nil {
		c.log.Warnf("Failed to close orphaned engine handle %s: %v", id, err)
	}
}
