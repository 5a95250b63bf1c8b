package rtc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avillega/telecare/internal/protocol"
	"github.com/avillega/telecare/internal/timeline"
)

const wsWriteTimeout = 10 * time.Second

// WSTransport implements Transport over a websocket signaling connection.
// One writer at a time; the read loop runs on its own goroutine and maps
// server frames into Events.
type WSTransport struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	local     Participant
	connected bool
	closed    bool

	events    chan Event
	closeOnce sync.Once
}

func NewWSTransport() *WSTransport {
	return &WSTransport{events: make(chan Event, 256)}
}

// Connect dials the signaling server, presents the participant token and
// waits for the join acknowledgment. Participants already in the room are
// queued as joined events and delivered once the caller starts draining.
func (t *WSTransport) Connect(ctx context.Context, serverURL, token string) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return errors.New("already connected")
	}
	t.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, serverURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", serverURL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", serverURL, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(protocol.Join{Type: protocol.TypeJoin, Token: token}); err != nil {
		conn.Close()
		return fmt.Errorf("send join: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsWriteTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("read join ack: %w", err)
	}
	parsed, err := protocol.ParseServerMessage(raw)
	if err != nil {
		conn.Close()
		return fmt.Errorf("parse join ack: %w", err)
	}
	joined, ok := parsed.(protocol.Joined)
	if !ok {
		conn.Close()
		return fmt.Errorf("unexpected first frame %T", parsed)
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.local = Participant{Identity: joined.Local.Identity, Name: joined.Local.Name, IsLocal: true}
	t.mu.Unlock()

	for _, p := range joined.Participants {
		t.emit(Event{Type: EventParticipantJoined, Participant: Participant{Identity: p.Identity, Name: p.Name}})
	}

	_ = conn.SetReadDeadline(time.Time{})
	go t.readLoop(conn)
	return nil
}

func (t *WSTransport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.connected = false
	t.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = conn.Close()
	}
	t.closeEvents()
	return err
}

func (t *WSTransport) SetCameraEnabled(ctx context.Context, enabled bool) error {
	return t.write(ctx, protocol.SetCamera{Type: protocol.TypeSetCamera, Enabled: enabled})
}

func (t *WSTransport) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	return t.write(ctx, protocol.SetMicrophone{Type: protocol.TypeSetMicrophone, Enabled: enabled})
}

func (t *WSTransport) StartScreenShare(ctx context.Context) error {
	return t.write(ctx, protocol.ScreenShare{Type: protocol.TypeScreenShare, Active: true})
}

func (t *WSTransport) StopScreenShare(ctx context.Context) error {
	return t.write(ctx, protocol.ScreenShare{Type: protocol.TypeScreenShare, Active: false})
}

func (t *WSTransport) SendChatMessage(ctx context.Context, text string) error {
	return t.write(ctx, protocol.ChatSend{Type: protocol.TypeChatSend, Text: text})
}

func (t *WSTransport) LocalParticipant() Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

func (t *WSTransport) Events() <-chan Event { return t.events }

func (t *WSTransport) write(ctx context.Context, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return errors.New("not connected")
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteJSON(msg)
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			stillOpen := t.conn == conn
			t.mu.Unlock()
			if stillOpen {
				t.emit(Event{Type: EventDisconnected, Reason: err.Error()})
			}
			t.closeEvents()
			return
		}

		parsed, err := protocol.ParseServerMessage(raw)
		if err != nil {
			log.Printf("drop unreadable frame: %v", err)
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ParticipantJoined:
			t.emit(Event{Type: EventParticipantJoined, Participant: Participant{Identity: msg.Participant.Identity, Name: msg.Participant.Name}})
		case protocol.ParticipantLeft:
			t.emit(Event{Type: EventParticipantLeft, Participant: Participant{Identity: msg.Participant.Identity}})
		case protocol.QualityChanged:
			t.emit(Event{Type: EventQualityChanged, Quality: Quality(msg.Quality)})
		case protocol.TranscriptionSegment:
			t.emit(Event{Type: EventTranscription, Segment: timeline.Segment{
				ID:                  msg.ID,
				ParticipantIdentity: msg.Identity,
				TimestampMS:         msg.TSMs,
				Text:                msg.Text,
				Final:               msg.Final,
			}})
		case protocol.ChatMessage:
			t.emit(Event{Type: EventChatMessage, Identity: msg.Identity, Chat: timeline.ChatMessage{
				ID:          msg.ID,
				TimestampMS: msg.TSMs,
				Text:        msg.Text,
			}})
		case protocol.Bye:
			t.emit(Event{Type: EventDisconnected, Reason: msg.Reason})
		}
	}
}

// emit drops events once the channel buffer is saturated rather than
// blocking the read loop; the controller drains far faster than a room
// produces notifications. After closeEvents the channel is gone and
// everything is dropped, which covers a Disconnect racing the read loop or
// an in-flight Connect.
func (t *WSTransport) emit(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		log.Printf("event buffer full, dropping %s", ev.Type)
	}
}

// closeEvents closes the event channel exactly once. The closed flag and the
// close itself happen under the lock emit holds to send, so a send can never
// race the close.
func (t *WSTransport) closeEvents() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.events)
		t.mu.Unlock()
	})
}
