package models

import "encoding/json"

// MediaKind tags producers and consumers.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

// TransportInfo is what a browser needs to build a send or receive transport.
type TransportInfo struct {
	ID             string          `json:"id"`
	IceParameters  json.RawMessage `json:"iceParameters"`
	IceCandidates  json.RawMessage `json:"iceCandidates"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

type RouterCapabilitiesResponse struct {
	RouterRtpCapabilities json.RawMessage `json:"routerRtpCapabilities"`
}

type JoinRoomRequest struct {
	RoomID          string          `json:"roomId"`
	Nickname        string          `json:"nickname,omitempty"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
}

type JoinRoomResponse struct {
	Transport TransportInfo  `json:"transport"`
	Peers     []PeerInfo     `json:"peers"`
	Producers []ProducerInfo `json:"producers"`
}

type ConnectTransportRequest struct {
	TransportID    string          `json:"transportId,omitempty"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

// ConnectTransportResponse names the transport that was connected, which
// matters when the request left it out.
type ConnectTransportResponse struct {
	TransportID string `json:"transportId"`
}

type ProduceRequest struct {
	TransportID   string          `json:"transportId,omitempty"`
	Kind          MediaKind       `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
}

type ProduceResponse struct {
	ID string `json:"id"`
}

type ConsumeRequest struct {
	ProducerID      string          `json:"producerId"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
}

type ConsumeResponse struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          MediaKind       `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
	Transport     *TransportInfo  `json:"transport,omitempty"`
}

type ResumeConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

// ProducerInfo announces a producer (newProducer event, joinRoom response).
type ProducerInfo struct {
	ProducerID string    `json:"producerId"`
	PeerID     string    `json:"peerId"`
	Kind       MediaKind `json:"kind"`
}
