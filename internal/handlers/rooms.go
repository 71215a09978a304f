package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/middleware"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/redis"
	"github.com/mossy-p/rtc-coordinator/internal/room"
	"github.com/mossy-p/rtc-coordinator/internal/signaling"
)

const storeTimeout = 2 * time.Second

// RoomStore persists room metadata alongside the live registry.
type RoomStore interface {
	SaveRoom(ctx context.Context, meta models.RoomMetadata) error
	GetRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error)
}

// RoomHandler serves the administrative room API. The store may be nil, in
// which case rooms carry no creator and anyone authenticated may delete.
type RoomHandler struct {
	coord *signaling.Coordinator
	store RoomStore
	log   logging.LeveledLogger
}

func NewRoomHandler(coord *signaling.Coordinator, store RoomStore, lf logging.LoggerFactory) *RoomHandler {
	return &RoomHandler{
		coord: coord,
		store: store,
		log:   logger.OrDefault(lf).NewLogger("http"),
	}
}

// CreateRoom creates a room ahead of the first join (requires authentication)
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = uuid.New().String()
	}

	registry := h.coord.Registry()
	if _, exists := registry.GetRoom(roomID); exists {
		c.JSON(http.StatusOK, models.CreateRoomResponse{RoomID: roomID})
		return
	}

	created, err := h.coord.CreateRoom(roomID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The room is live before its record is written, so a teardown sync
	// still queued for an earlier room of the same id cannot remove it.
	if created && h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
		defer cancel()
		meta := models.RoomMetadata{
			ID:        roomID,
			CreatorID: userID,
			CreatedAt: time.Now(),
			Capacity:  registry.Capacity(),
		}
		if err := h.store.SaveRoom(ctx, meta); err != nil {
			h.log.Errorf("Failed to store room %s: %v", roomID, err)
			h.coord.DeleteRoom(roomID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
			return
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.log.Infof("Room created: %s by user %s", roomID, userID)
	}
	c.JSON(status, models.CreateRoomResponse{RoomID: roomID})
}

// ListRooms lists the live rooms (public)
func (h *RoomHandler) ListRooms(c *gin.Context) {
	infos := h.coord.Registry().ListRooms()
	rooms := make([]models.RoomMetadata, 0, len(infos))
	for _, info := range infos {
		rooms = append(rooms, h.metadata(c.Request.Context(), info))
	}
	c.JSON(http.StatusOK, models.RoomListResponse{Rooms: rooms})
}

// GetRoom describes one live room (public)
func (h *RoomHandler) GetRoom(c *gin.Context) {
	info, ok := h.coord.Registry().GetRoom(c.Param("roomId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	c.JSON(http.StatusOK, h.metadata(c.Request.Context(), info))
}

// DeleteRoom tears a room down (requires authentication and creator)
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	roomID := c.Param("roomId")

	if _, ok := h.coord.Registry().GetRoom(roomID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if creator := h.creator(c.Request.Context(), roomID); creator != "" && creator != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	if !h.coord.DeleteRoom(roomID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	h.log.Infof("Room deleted: %s by user %s", roomID, userID)
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// RemovePeer evicts one peer from a room (requires authentication and creator)
func (h *RoomHandler) RemovePeer(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	roomID, peerID := c.Param("roomId"), c.Param("peerId")

	if creator := h.creator(c.Request.Context(), roomID); creator != "" && creator != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can remove peers"})
		return
	}
	if !h.coord.RemovePeer(roomID, peerID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Peer not found"})
		return
	}
	h.log.Infof("Peer %s removed from room %s by user %s", peerID, roomID, userID)
	c.JSON(http.StatusOK, gin.H{"message": "Peer removed"})
}

func (h *RoomHandler) metadata(ctx context.Context, info room.Info) models.RoomMetadata {
	return models.RoomMetadata{
		ID:        info.ID,
		CreatorID: h.creator(ctx, info.ID),
		CreatedAt: info.CreatedAt,
		Capacity:  h.coord.Registry().Capacity(),
		HostID:    info.HostID,
		PeerCount: len(info.Peers),
		Peers:     info.Peers,
	}
}

// creator returns the stored creator of roomID, or "" when unknown.
func (h *RoomHandler) creator(ctx context.Context, roomID string) string {
	if h.store == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	meta, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		if !errors.Is(err, redis.ErrNotFound) {
			h.log.Warnf("Failed to read room %s: %v", roomID, err)
		}
		return ""
	}
	return meta.CreatorID
}
