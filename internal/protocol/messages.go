package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket signaling payload variants.
type MessageType string

const (
	// Client to server.
	TypeJoin          MessageType = "join"
	TypeSetCamera     MessageType = "set_camera"
	TypeSetMicrophone MessageType = "set_microphone"
	TypeScreenShare   MessageType = "screen_share"
	TypeChatSend      MessageType = "chat_send"

	// Server to client.
	TypeJoined               MessageType = "joined"
	TypeParticipantJoined    MessageType = "participant_joined"
	TypeParticipantLeft      MessageType = "participant_left"
	TypeQualityChanged       MessageType = "quality_changed"
	TypeTranscriptionSegment MessageType = "transcription_segment"
	TypeChatMessage          MessageType = "chat_message"
	TypeBye                  MessageType = "bye"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ParticipantInfo mirrors one room participant on the wire.
type ParticipantInfo struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
}

type Join struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
}

type SetCamera struct {
	Type    MessageType `json:"type"`
	Enabled bool        `json:"enabled"`
}

type SetMicrophone struct {
	Type    MessageType `json:"type"`
	Enabled bool        `json:"enabled"`
}

type ScreenShare struct {
	Type   MessageType `json:"type"`
	Active bool        `json:"active"`
}

type ChatSend struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// Joined acknowledges a join: the local participant as admitted plus the
// participants already in the room.
type Joined struct {
	Type         MessageType       `json:"type"`
	Room         string            `json:"room"`
	Local        ParticipantInfo   `json:"local"`
	Participants []ParticipantInfo `json:"participants,omitempty"`
}

type ParticipantJoined struct {
	Type        MessageType     `json:"type"`
	Participant ParticipantInfo `json:"participant"`
}

type ParticipantLeft struct {
	Type        MessageType     `json:"type"`
	Participant ParticipantInfo `json:"participant"`
}

type QualityChanged struct {
	Type    MessageType `json:"type"`
	Quality string      `json:"quality"`
}

type TranscriptionSegment struct {
	Type     MessageType `json:"type"`
	ID       string      `json:"id,omitempty"`
	Identity string      `json:"identity"`
	TSMs     int64       `json:"ts_ms,omitempty"`
	Text     string      `json:"text"`
	Final    bool        `json:"final"`
}

type ChatMessage struct {
	Type     MessageType `json:"type"`
	ID       string      `json:"id,omitempty"`
	Identity string      `json:"identity"`
	TSMs     int64       `json:"ts_ms,omitempty"`
	Text     string      `json:"text"`
}

type Bye struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason,omitempty"`
}

// ParseServerMessage decodes one frame received from the signaling server.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeJoined:
		var msg Joined
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Local.Identity == "" {
			return nil, errors.New("invalid joined: missing local identity")
		}
		return msg, nil
	case TypeParticipantJoined:
		var msg ParticipantJoined
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Participant.Identity == "" {
			return nil, errors.New("invalid participant_joined")
		}
		return msg, nil
	case TypeParticipantLeft:
		var msg ParticipantLeft
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Participant.Identity == "" {
			return nil, errors.New("invalid participant_left")
		}
		return msg, nil
	case TypeQualityChanged:
		var msg QualityChanged
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Quality == "" {
			return nil, errors.New("invalid quality_changed")
		}
		return msg, nil
	case TypeTranscriptionSegment:
		var msg TranscriptionSegment
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Identity == "" {
			return nil, errors.New("invalid transcription_segment: missing identity")
		}
		return msg, nil
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Identity == "" || msg.Text == "" {
			return nil, errors.New("invalid chat_message")
		}
		return msg, nil
	case TypeBye:
		var msg Bye
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
