package room

import "errors"

var (
	// ErrRoomFull is returned when a join would exceed the room capacity.
	ErrRoomFull = errors.New("room is full")

	// ErrAlreadyJoined is returned when a connection joins a room it is already in.
	ErrAlreadyJoined = errors.New("peer already joined")

	// ErrTransportNotFound is returned for a transport the peer does not hold.
	ErrTransportNotFound = errors.New("transport not found")

	// ErrTransportConnected is returned when a transport is connected twice.
	ErrTransportConnected = errors.New("transport already connected")

	// ErrNoPendingTransport is returned when a connect names no transport and
	// none is waiting for one.
	ErrNoPendingTransport = errors.New("no transport awaiting connect")

	// ErrAmbiguousTransport is returned when a connect names no transport and
	// more than one could be meant.
	ErrAmbiguousTransport = errors.New("transportId required: more than one transport awaiting connect")

	// ErrInvalidRoomID is returned for empty room identifiers.
	ErrInvalidRoomID = errors.New("invalid room id")
)
