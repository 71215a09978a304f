// Package redis mirrors room metadata and live presence into Redis so other
// services can see which rooms exist and who is in them. The in-memory
// registry stays authoritative.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/logging"
	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/rtc-coordinator/config"
	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/room"
)

const syncAttempts = 3

// ErrNotFound is returned when no metadata is stored for a room.
var ErrNotFound = errors.New("redis: room not found")

func roomKey(roomID string) string  { return "room:" + roomID }
func peersKey(roomID string) string { return "room:" + roomID + ":peers" }

// Store reads and writes room records.
type Store struct {
	client *redis.Client
	log    logging.LeveledLogger
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, cfg config.RedisConfig, lf logging.LoggerFactory) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewStore(client, lf), nil
}

func NewStore(client *redis.Client, lf logging.LoggerFactory) *Store {
	return &Store{
		client: client,
		log:    logger.OrDefault(lf).NewLogger("redis"),
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// SaveRoom writes metadata for a room, replacing what was stored.
func (s *Store) SaveRoom(ctx context.Context, meta models.RoomMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, roomKey(meta.ID), data, config.RoomTTL).Err(); err != nil {
		return fmt.Errorf("store room %s: %w", meta.ID, err)
	}
	return nil
}

// GetRoom reads a room's metadata with its current peer count.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error) {
	data, err := s.client.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}

	var meta models.RoomMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse room %s: %w", roomID, err)
	}
	count, err := s.PeerCount(ctx, roomID)
	if err != nil {
		return nil, err
	}
	meta.PeerCount = count
	return &meta, nil
}

func (s *Store) PeerCount(ctx context.Context, roomID string) (int, error) {
	n, err := s.client.SCard(ctx, peersKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count peers of %s: %w", roomID, err)
	}
	return int(n), nil
}

// peerIDs returns the ids stored in a room's presence set.
func (s *Store) peerIDs(ctx context.Context, roomID string) ([]string, error) {
	return s.client.SMembers(ctx, peersKey(roomID)).Result()
}

// SyncRoom replaces the stored record of a live room with info. The creator
// recorded by an earlier SaveRoom is kept.
func (s *Store) SyncRoom(ctx context.Context, info room.Info) error {
	key := roomKey(info.ID)
	sync := func(tx *redis.Tx) error {
		meta := models.RoomMetadata{
			ID:        info.ID,
			CreatedAt: info.CreatedAt,
			HostID:    info.HostID,
			PeerCount: len(info.Peers),
			Peers:     info.Peers,
		}
		prev, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var old models.RoomMetadata
			if err := json.Unmarshal(prev, &old); err != nil {
				return fmt.Errorf("parse room %s: %w", info.ID, err)
			}
			meta.CreatorID = old.CreatorID
			meta.Capacity = old.Capacity
		case !errors.Is(err, redis.Nil):
			return err
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, config.RoomTTL)
			pipe.Del(ctx, peersKey(info.ID))
			if len(info.Peers) > 0 {
				ids := make([]any, 0, len(info.Peers))
				for _, p := range info.Peers {
					ids = append(ids, p.ID)
				}
				pipe.SAdd(ctx, peersKey(info.ID), ids...)
				pipe.Expire(ctx, peersKey(info.ID), config.RoomTTL)
			}
			return nil
		})
		return err
	}

	// A SaveRoom landing between the read and the write aborts the
	// transaction; retry so its creator is carried over.
	var err error
	for i := 0; i < syncAttempts; i++ {
		if err = s.client.Watch(ctx, sync, key); !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("sync room %s: %w", info.ID, err)
	}
	s.log.Debugf("Synced room %s: %d peers", info.ID, len(info.Peers))
	return nil
}

// RemoveRoom deletes everything stored for a room.
func (s *Store) RemoveRoom(ctx context.Context, roomID string) error {
	if err := s.client.Del(ctx, roomKey(roomID), peersKey(roomID)).Err(); err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	s.log.Debugf("Removed room %s", roomID)
	return nil
}
