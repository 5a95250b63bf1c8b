package rtc

import (
	"context"
	"errors"

	"github.com/avillega/telecare/internal/timeline"
)

// ErrTokenUnavailable classifies a failure to fetch connection details.
// Retryable with a fresh attempt.
var ErrTokenUnavailable = errors.New("connection details unavailable")

// ErrTransportConnect classifies a failed transport handshake. Retryable
// with a fresh attempt.
var ErrTransportConnect = errors.New("transport connect failed")

// ErrControllerUsed is returned when Connect is called on a controller that
// already reached a terminal state. A retry is a new controller, not a
// resume.
var ErrControllerUsed = errors.New("controller already used; create a new one")

type EventType string

const (
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventQualityChanged    EventType = "quality_changed"
	EventTranscription     EventType = "transcription_segment"
	EventChatMessage       EventType = "chat_message"
	EventDisconnected      EventType = "disconnected"
)

type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
)

// Participant is a non-owning mirror of a room participant.
type Participant struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	IsLocal  bool   `json:"is_local"`
}

// Event is one asynchronous room notification. Which fields are set depends
// on Type.
type Event struct {
	Type        EventType
	Participant Participant
	Quality     Quality
	Segment     timeline.Segment
	Chat        timeline.ChatMessage
	Identity    string
	Reason      string
}

// Transport is the realtime room collaborator. Implementations own the
// media/signaling connection; the controller only drives it. Events() must
// not deliver anything before Connect has returned successfully, and the
// channel is closed when the connection is released.
type Transport interface {
	Connect(ctx context.Context, serverURL, token string) error
	Disconnect() error
	SetCameraEnabled(ctx context.Context, enabled bool) error
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
	SendChatMessage(ctx context.Context, text string) error
	// LocalParticipant is valid once Connect has returned successfully.
	LocalParticipant() Participant
	Events() <-chan Event
}

// ConnectionDetails are the coordinates returned by the token endpoint.
type ConnectionDetails struct {
	ServerURL        string `json:"serverUrl"`
	RoomName         string `json:"roomName"`
	ParticipantToken string `json:"participantToken"`
	ParticipantName  string `json:"participantName"`
}

// TokenSource fetches a fresh credential for one participation attempt.
type TokenSource interface {
	ConnectionDetails(ctx context.Context) (ConnectionDetails, error)
}
