package models

import "time"

// RoomMetadata describes a room for the administrative API.
type RoomMetadata struct {
	ID        string     `json:"id"`
	CreatorID string     `json:"creatorId,omitempty"` // User ID from JWT who created the room
	CreatedAt time.Time  `json:"createdAt"`
	Capacity  int        `json:"capacity"`
	HostID    string     `json:"hostId,omitempty"`
	PeerCount int        `json:"peerCount"`
	Peers     []PeerInfo `json:"peers,omitempty"`
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	RoomID string `json:"roomId,omitempty"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

type RoomListResponse struct {
	Rooms []RoomMetadata `json:"rooms"`
}
