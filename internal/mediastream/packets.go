package mediastream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	KindAudioMetadata = "AudioMetadata"
	KindAudioData     = "AudioData"
)

// AudioMetadata is the first packet on every streaming connection and
// describes the PCM format of the frames that follow.
type AudioMetadata struct {
	SubscriptionID string `json:"subscriptionId"`
	Encoding       string `json:"encoding"`
	SampleRate     int    `json:"sampleRate"`
	Channels       int    `json:"channels"`
	Length         int    `json:"length"`
}

// AudioData is one audio frame. Data is base64-encoded PCM.
type AudioData struct {
	Timestamp        string `json:"timestamp"`
	ParticipantRawID string `json:"participantRawID"`
	Data             string `json:"data"`
	Silent           bool   `json:"silent"`
}

// Packet is the envelope the calling platform sends over the websocket.
type Packet struct {
	Kind          string         `json:"kind"`
	AudioMetadata *AudioMetadata `json:"audioMetadata,omitempty"`
	AudioData     *AudioData     `json:"audioData,omitempty"`
}

// DecodePacket parses one websocket text frame. The payload inside the
// envelope must match the declared kind.
func DecodePacket(raw []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(raw, &p); err != nil {
		return Packet{}, fmt.Errorf("mediastream: decode packet: %w", err)
	}
	switch p.Kind {
	case KindAudioMetadata:
		if p.AudioMetadata == nil {
			return Packet{}, fmt.Errorf("mediastream: %s packet missing audioMetadata", p.Kind)
		}
	case KindAudioData:
		if p.AudioData == nil {
			return Packet{}, fmt.Errorf("mediastream: %s packet missing audioData", p.Kind)
		}
	default:
		return Packet{}, fmt.Errorf("mediastream: unknown packet kind %q", p.Kind)
	}
	return p, nil
}

// PCM decodes the frame payload.
func (d *AudioData) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Data)
}
