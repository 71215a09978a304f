package models

import "encoding/json"

// Event names carried in Envelope.Event.
const (
	// Inbound, mesh mode
	EventJoin        = "join"
	EventLeave       = "leave"
	EventRTCMessage  = "rtc-message"
	EventChatMessage = "chat-message"

	// Inbound media-engine requests (each correlated by Envelope.ID)
	EventGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	EventJoinRoom                 = "joinRoom"
	EventConnectTransport         = "connectTransport"
	EventProduce                  = "produce"
	EventConsume                  = "consume"
	EventResumeConsumer           = "resumeConsumer"

	// Outbound
	EventResponse    = "response"
	EventError       = "error"
	EventRoomFull    = "room-full"
	EventPeerList    = "peer-list"
	EventPeerJoined  = "peer-joined"
	EventPeerLeft    = "peer-left"
	EventRoomClosed  = "room-closed"
	EventRemoved     = "removed"
	EventNewProducer = "newProducer"
)

// SignalType is the tag of an rtc-message. The payload itself is opaque.
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
	SignalTypeStatus    SignalType = "status"
)

// Valid reports whether t belongs to the relayable vocabulary.
func (t SignalType) Valid() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate, SignalTypeStatus:
		return true
	}
	return false
}

// Envelope is the frame exchanged over every websocket connection.
// A frame carrying an ID is a request and is answered by exactly one
// EventResponse frame with the same ID.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = raw
	return env, nil
}

// Response builds the correlated reply to a request.
func Response(id string, data any, err error) Envelope {
	env := Envelope{Event: EventResponse, ID: id}
	if err != nil {
		env.Error = err.Error()
		return env
	}
	if data != nil {
		raw, merr := json.Marshal(data)
		if merr != nil {
			env.Error = merr.Error()
			return env
		}
		env.Data = raw
	}
	return env
}

// JoinRequest is the payload of a mesh-mode join.
type JoinRequest struct {
	RoomID   string `json:"roomId"`
	Nickname string `json:"nickname"`
}

// RTCMessage is relayed between peers. Inbound frames carry RoomID and an
// optional To; outbound frames carry From.
type RTCMessage struct {
	RoomID string          `json:"roomId,omitempty"`
	Event  SignalType      `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
}

// MediaStatus is the shape of a status payload.
type MediaStatus struct {
	Camera     bool `json:"camera"`
	Microphone bool `json:"mic"`
}

// PeerInfo identifies a room member to other members.
type PeerInfo struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// PeerLeft is sent to survivors. PeerID mirrors ID for routed-mode clients.
type PeerLeft struct {
	ID     string `json:"id"`
	PeerID string `json:"peerId"`
}

// RoomNotice names the room a room-full, room-closed or removed event is about.
type RoomNotice struct {
	RoomID string `json:"roomId"`
}

// ErrorInfo is the payload of an uncorrelated error event.
type ErrorInfo struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
