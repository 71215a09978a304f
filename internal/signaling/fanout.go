package signaling

import (
	"github.com/pion/logging"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/room"
)

// Fanout turns membership changes into notifications. Its methods are
// passed to the registry and run inside the room's critical section, so a
// member never hears about peers out of order.
type Fanout struct {
	log logging.LeveledLogger
}

func NewFanout(lf logging.LoggerFactory) *Fanout {
	return &Fanout{log: logger.OrDefault(lf).NewLogger("signaling")}
}

// Admitted sends the roster to the newcomer and announces it to the others.
func (f *Fanout) Admitted(peer *room.Peer, others []*room.Peer) {
	roster := make([]models.PeerInfo, 0, len(others))
	for _, o := range others {
		roster = append(roster, o.Info())
	}
	f.send(peer, models.EventPeerList, roster)

	joined, err := models.NewEnvelope(models.EventPeerJoined, peer.Info())
	if err != nil {
		f.log.Errorf("Failed to encode peer-joined: %v", err)
		return
	}
	for _, o := range others {
		if !o.Send(joined) {
			f.log.Warnf("Dropped peer-joined for %s: send buffer full", o.ID())
		}
	}
}

// Departed tells the remaining members that a peer left, or that their room
// is gone.
func (f *Fanout) Departed(d room.Departure) {
	if d.Closed {
		for _, p := range d.Remaining {
			f.send(p, models.EventRoomClosed, models.RoomNotice{RoomID: d.RoomID})
		}
		return
	}
	if d.Peer == nil {
		return
	}
	left := models.PeerLeft{ID: d.Peer.ID(), PeerID: d.Peer.ID()}
	for _, p := range d.Remaining {
		f.send(p, models.EventPeerLeft, left)
	}
}

func (f *Fanout) send(p *room.Peer, event string, data any) {
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		f.log.Errorf("Failed to encode %s: %v", event, err)
		return
	}
	if !p.Send(env) {
		f.log.Warnf("Dropped %s for %s: send buffer full", event, p.ID())
	}
}
