package transcript

import (
	"context"
	"time"
)

// Record is one archived conversation entry: a finalized transcription
// segment or a chat message, as delivered by the room transport.
type Record struct {
	ID          string    `json:"id"`
	RoomName    string    `json:"room_name"`
	EntryID     string    `json:"entry_id"`
	Author      string    `json:"author"`
	AuthorLocal bool      `json:"author_local"`
	Kind        string    `json:"kind"`
	Text        string    `json:"text"`
	TimestampMS int64     `json:"timestamp_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entry kinds.
const (
	KindTranscription = "transcription"
	KindChat          = "chat"
)

// Store archives and retrieves conversation records per room.
type Store interface {
	Save(ctx context.Context, record Record) error
	RoomHistory(ctx context.Context, roomName string, limit int) ([]Record, error)
	Close() error
}
