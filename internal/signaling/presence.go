package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/mossy-p/rtc-coordinator/internal/room"
)

const (
	presenceQueueSize = 256
	presenceTimeout   = 2 * time.Second
)

// Presence mirrors live room state into an external store. Failures never
// affect signaling.
type Presence interface {
	SyncRoom(ctx context.Context, info room.Info) error
	RemoveRoom(ctx context.Context, roomID string) error
}

// presenceSync serializes mirror writes on one goroutine. Each queued room
// id is synced from the registry's state at the time it is processed, so
// the store converges on the latest membership even when updates coalesce.
type presenceSync struct {
	store    Presence
	registry *room.Registry
	log      logging.LeveledLogger

	queue chan string
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func newPresenceSync(store Presence, registry *room.Registry, log logging.LeveledLogger) *presenceSync {
	p := &presenceSync{
		store:    store,
		registry: registry,
		log:      log,
		queue:    make(chan string, presenceQueueSize),
		stop:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *presenceSync) touch(roomID string) {
	select {
	case p.queue <- roomID:
	case <-p.stop:
	default:
		p.log.Warnf("Presence queue full, skipping sync of room %s", roomID)
	}
}

func (p *presenceSync) run() {
	defer p.wg.Done()
	for {
		select {
		case roomID := <-p.queue:
			p.sync(roomID)
		case <-p.stop:
			// Drain what is already queued.
			for {
				select {
				case roomID := <-p.queue:
					p.sync(roomID)
				default:
					return
				}
			}
		}
	}
}

func (p *presenceSync) sync(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	var err error
	if info, ok := p.registry.GetRoom(roomID); ok {
		err = p.store.SyncRoom(ctx, info)
	} else {
		err = p.store.RemoveRoom(ctx, roomID)
	}
	if err != nil {
		p.log.Warnf("Failed to mirror room %s: %v", roomID, err)
	}
}

func (p *presenceSync) close() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}
