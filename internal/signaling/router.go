package signaling

import (
	"encoding/json"

	"github.com/pion/logging"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/room"
)

// Router relays opaque signaling payloads between members of a room. It
// reads the event tag and nothing else.
type Router struct {
	registry *room.Registry
	log      logging.LeveledLogger
}

func NewRouter(registry *room.Registry, lf logging.LoggerFactory) *Router {
	return &Router{
		registry: registry,
		log:      logger.OrDefault(lf).NewLogger("signaling"),
	}
}

func relayEnvelope(senderID string, event models.SignalType, data json.RawMessage) (models.Envelope, error) {
	return models.NewEnvelope(models.EventRTCMessage, models.RTCMessage{
		Event: event,
		Data:  data,
		From:  senderID,
	})
}

// RelayToRoom delivers a message to every member of roomID except the
// sender, tagged with the sender's id. It returns the number of recipients.
func (r *Router) RelayToRoom(roomID, senderID string, event models.SignalType, data json.RawMessage) (int, error) {
	env, err := relayEnvelope(senderID, event, data)
	if err != nil {
		return 0, err
	}

	sent := 0
	var member bool
	r.registry.View(roomID, func(v room.View) {
		if _, member = v.Peer(senderID); !member {
			return
		}
		for _, p := range v.Peers() {
			if p.ID() == senderID {
				continue
			}
			r.deliver(p, env)
			sent++
		}
	})
	if !member {
		return 0, ErrNotInRoom
	}
	return sent, nil
}

// RelayToPeer delivers a message to targetID only. A target that is not in
// the room is not an error: the message is dropped and false is returned.
func (r *Router) RelayToPeer(roomID, senderID, targetID string, event models.SignalType, data json.RawMessage) (bool, error) {
	env, err := relayEnvelope(senderID, event, data)
	if err != nil {
		return false, err
	}

	var member, delivered bool
	r.registry.View(roomID, func(v room.View) {
		if _, member = v.Peer(senderID); !member {
			return
		}
		target, ok := v.Peer(targetID)
		if !ok {
			r.log.Debugf("Dropping %s from %s: peer %s not in room %s", event, senderID, targetID, roomID)
			return
		}
		r.deliver(target, env)
		delivered = true
	})
	if !member {
		return false, ErrNotInRoom
	}
	return delivered, nil
}

// Broadcast sends env to every member of roomID except exceptID, which may
// be empty.
func (r *Router) Broadcast(roomID string, env models.Envelope, exceptID string) int {
	sent := 0
	r.registry.View(roomID, func(v room.View) {
		for _, p := range v.Peers() {
			if p.ID() == exceptID {
				continue
			}
			r.deliver(p, env)
			sent++
		}
	})
	return sent
}

func (r *Router) deliver(p *room.Peer, env models.Envelope) {
	if !p.Send(env) {
		r.log.Warnf("Dropped %s for peer %s: send buffer full", env.Event, p.ID())
	}
}
