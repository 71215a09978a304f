package engine

import (
	"encoding/json"
	"strings"

	"github.com/pion/webrtc/v4"
)

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

// defaultCodecs is what the local router offers.
func defaultCodecs() []webrtc.RTPCodecParameters {
	return []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeVP8,
				ClockRate:    90000,
				RTCPFeedback: videoFeedback,
			},
			PayloadType: 96,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
				RTCPFeedback: videoFeedback,
			},
			PayloadType: 102,
		},
	}
}

func codecType(c webrtc.RTPCodecParameters) webrtc.RTPCodecType {
	if strings.HasPrefix(strings.ToLower(c.MimeType), "audio/") {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// registerCodecs loads codecs into a pion MediaEngine, which rejects
// malformed or conflicting definitions.
func registerCodecs(codecs []webrtc.RTPCodecParameters) (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		if err := m.RegisterCodec(c, codecType(c)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type rtcpFeedbackJSON struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type codecCapabilityJSON struct {
	Kind                 string             `json:"kind"`
	MimeType             string             `json:"mimeType"`
	PreferredPayloadType uint8              `json:"preferredPayloadType"`
	ClockRate            uint32             `json:"clockRate"`
	Channels             uint16             `json:"channels,omitempty"`
	Parameters           map[string]string  `json:"parameters"`
	RTCPFeedback         []rtcpFeedbackJSON `json:"rtcpFeedback"`
}

type rtpCapabilitiesJSON struct {
	Codecs           []codecCapabilityJSON `json:"codecs"`
	HeaderExtensions []json.RawMessage     `json:"headerExtensions"`
}

// capabilitiesJSON renders router RTP capabilities in the shape browser
// device libraries load.
func capabilitiesJSON(codecs []webrtc.RTPCodecParameters) (json.RawMessage, error) {
	caps := rtpCapabilitiesJSON{HeaderExtensions: []json.RawMessage{}}
	for _, c := range codecs {
		cc := codecCapabilityJSON{
			Kind:                 codecType(c).String(),
			MimeType:             c.MimeType,
			PreferredPayloadType: uint8(c.PayloadType),
			ClockRate:            c.ClockRate,
			Channels:             c.Channels,
			Parameters:           parseFmtp(c.SDPFmtpLine),
			RTCPFeedback:         []rtcpFeedbackJSON{},
		}
		for _, fb := range c.RTCPFeedback {
			cc.RTCPFeedback = append(cc.RTCPFeedback, rtcpFeedbackJSON{Type: fb.Type, Parameter: fb.Parameter})
		}
		caps.Codecs = append(caps.Codecs, cc)
	}
	return json.Marshal(caps)
}

func parseFmtp(line string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		params[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return params
}

type mimeTypesJSON struct {
	Codecs []struct {
		MimeType string `json:"mimeType"`
	} `json:"codecs"`
}

// mimeTypes extracts the codec mime types of RTP parameters or capabilities.
func mimeTypes(raw json.RawMessage) (map[string]bool, error) {
	var v mimeTypesJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(v.Codecs))
	for _, c := range v.Codecs {
		if c.MimeType != "" {
			out[strings.ToLower(c.MimeType)] = true
		}
	}
	return out, nil
}
