package transcript

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndHistory(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	records := []Record{
		{RoomName: "room-1", EntryID: "a", Author: "Assistant", Kind: KindTranscription, Text: "hello", TimestampMS: 100},
		{RoomName: "room-1", EntryID: "c1", Author: "user", AuthorLocal: true, Kind: KindChat, Text: "hi", TimestampMS: 150},
		{RoomName: "room-2", EntryID: "b", Author: "Assistant", Kind: KindTranscription, Text: "other room", TimestampMS: 90},
	}
	for _, r := range records {
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := s.RoomHistory(ctx, "room-1", 0)
	if err != nil {
		t.Fatalf("RoomHistory() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(got))
	}
	if got[0].EntryID != "a" || got[1].EntryID != "c1" {
		t.Fatalf("history order = [%q %q], want [a c1]", got[0].EntryID, got[1].EntryID)
	}
	if got[0].ID == "" {
		t.Fatalf("Save() should assign an id")
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatalf("Save() should stamp CreatedAt")
	}
}

func TestInMemoryStoreHistoryLimit(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Save(ctx, Record{RoomName: "room-1", Kind: KindChat, Text: "m", TimestampMS: int64(i)}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := s.RoomHistory(ctx, "room-1", 2)
	if err != nil {
		t.Fatalf("RoomHistory() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(got))
	}
	if got[0].TimestampMS != 3 || got[1].TimestampMS != 4 {
		t.Fatalf("limited history = [%d %d], want most recent two", got[0].TimestampMS, got[1].TimestampMS)
	}
}

func TestInMemoryStoreUnknownRoom(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.RoomHistory(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("RoomHistory() error = %v", err)
	}
	if got != nil {
		t.Fatalf("history = %v, want nil for unknown room", got)
	}
}
