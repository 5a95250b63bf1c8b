package timeline

import (
	"errors"
	"testing"
)

type staticResolver map[string]struct {
	name  string
	local bool
}

func (r staticResolver) Resolve(identity string) (string, bool, bool) {
	p, ok := r[identity]
	return p.name, p.local, ok
}

var testRoster = staticResolver{
	"voice_assistant_user_42": {name: "user", local: true},
	"medical-assistant":       {name: "Assistant", local: false},
}

func TestRevisedSegmentStaysOneEntry(t *testing.T) {
	segments := []Segment{
		{ID: "a", ParticipantIdentity: "medical-assistant", TimestampMS: 100, Text: "hel", Final: false},
		{ID: "a", ParticipantIdentity: "medical-assistant", TimestampMS: 100, Text: "hello", Final: true},
	}
	chats := []ChatMessage{
		{Author: "user", AuthorIsLocal: true, TimestampMS: 150, Text: "hi"},
	}

	entries, err := Merge(segments, chats, testRoster)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].ID != "a" || entries[0].Text != "hello" || !entries[0].Final || entries[0].TimestampMS != 100 {
		t.Fatalf("entries[0] = %+v, want finalized segment a at t=100", entries[0])
	}
	if entries[1].Text != "hi" || entries[1].TimestampMS != 150 {
		t.Fatalf("entries[1] = %+v, want chat at t=150", entries[1])
	}
}

func TestEntriesSortedRegardlessOfArrivalOrder(t *testing.T) {
	tl := New()
	if err := tl.ApplySegment(Segment{ID: "s1", TimestampMS: 200, Text: "later", Final: true}, testRoster); err != nil {
		t.Fatalf("ApplySegment() error = %v", err)
	}
	tl.AppendChat(ChatMessage{Author: "user", AuthorIsLocal: true, TimestampMS: 100, Text: "earlier"})

	entries := tl.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].TimestampMS != 100 || entries[1].TimestampMS != 200 {
		t.Fatalf("order = [%d %d], want [100 200]", entries[0].TimestampMS, entries[1].TimestampMS)
	}
}

func TestEqualTimestampsKeepArrivalOrder(t *testing.T) {
	tl := New()
	if err := tl.ApplySegment(Segment{ID: "s1", TimestampMS: 100, Text: "first", Final: true}, nil); err != nil {
		t.Fatalf("ApplySegment() error = %v", err)
	}
	tl.AppendChat(ChatMessage{Author: "user", TimestampMS: 100, Text: "second"})
	tl.AppendChat(ChatMessage{Author: "user", TimestampMS: 100, Text: "third"})

	entries := tl.Entries()
	if entries[0].Text != "first" || entries[1].Text != "second" || entries[2].Text != "third" {
		t.Fatalf("tie order = [%q %q %q], want arrival order", entries[0].Text, entries[1].Text, entries[2].Text)
	}
}

func TestRevisionDoesNotMoveEntry(t *testing.T) {
	tl := New()
	if err := tl.ApplySegment(Segment{ID: "a", TimestampMS: 100, Text: "int", Final: false}, nil); err != nil {
		t.Fatalf("ApplySegment() error = %v", err)
	}
	tl.AppendChat(ChatMessage{Author: "user", TimestampMS: 100, Text: "chat"})
	// Revision reports a later stream timestamp; position must not change.
	if err := tl.ApplySegment(Segment{ID: "a", TimestampMS: 180, Text: "interim done", Final: true}, nil); err != nil {
		t.Fatalf("ApplySegment() revision error = %v", err)
	}

	entries := tl.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].ID != "a" || entries[0].Text != "interim done" || entries[0].TimestampMS != 100 {
		t.Fatalf("entries[0] = %+v, revised entry moved or lost its slot", entries[0])
	}
}

func TestFinalDoesNotRegress(t *testing.T) {
	tl := New()
	if err := tl.ApplySegment(Segment{ID: "a", TimestampMS: 100, Text: "done", Final: true}, nil); err != nil {
		t.Fatalf("ApplySegment() error = %v", err)
	}
	if err := tl.ApplySegment(Segment{ID: "a", TimestampMS: 100, Text: "do", Final: false}, nil); err != nil {
		t.Fatalf("ApplySegment() stray interim error = %v", err)
	}

	entries := tl.Entries()
	if entries[0].Text != "done" || !entries[0].Final {
		t.Fatalf("entries[0] = %+v, final entry was overwritten by stray interim", entries[0])
	}
}

func TestUnknownAuthorResolvedOnRevision(t *testing.T) {
	roster := staticResolver{}
	tl := New()
	if err := tl.ApplySegment(Segment{ID: "a", ParticipantIdentity: "medical-assistant", TimestampMS: 100, Text: "hel"}, roster); err != nil {
		t.Fatalf("ApplySegment() error = %v", err)
	}
	if got := tl.Entries()[0].Author; got != "Unknown" {
		t.Fatalf("Author = %q before roster catches up, want Unknown", got)
	}

	// Participant-joined mirrored between revisions.
	roster["medical-assistant"] = struct {
		name  string
		local bool
	}{name: "Assistant"}
	if err := tl.ApplySegment(Segment{ID: "a", ParticipantIdentity: "medical-assistant", TimestampMS: 100, Text: "hello", Final: true}, roster); err != nil {
		t.Fatalf("ApplySegment() revision error = %v", err)
	}
	if got := tl.Entries()[0].Author; got != "Assistant" {
		t.Fatalf("Author = %q after roster catches up, want Assistant", got)
	}
}

func TestSegmentIDConflictRejected(t *testing.T) {
	tl := New()
	if err := tl.ApplySegment(Segment{ID: "a", ParticipantIdentity: "medical-assistant", TimestampMS: 100, Text: "hi"}, testRoster); err != nil {
		t.Fatalf("ApplySegment() error = %v", err)
	}

	err := tl.ApplySegment(Segment{ID: "a", ParticipantIdentity: "voice_assistant_user_42", TimestampMS: 120, Text: "mine now"}, testRoster)
	if !errors.Is(err, ErrAuthorConflict) {
		t.Fatalf("error = %v, want ErrAuthorConflict", err)
	}
	if got := tl.Entries()[0].Text; got != "hi" {
		t.Fatalf("Text = %q, conflicting revision must not apply", got)
	}
}

func TestMissingIDAndTimestampGenerated(t *testing.T) {
	tl := New()
	if err := tl.ApplySegment(Segment{Text: "no stream id"}, nil); err != nil {
		t.Fatalf("ApplySegment() error = %v", err)
	}
	if err := tl.ApplySegment(Segment{Text: "another"}, nil); err != nil {
		t.Fatalf("ApplySegment() error = %v", err)
	}

	entries := tl.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, segments without ids must not collapse", len(entries))
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Fatalf("generated ids = [%q %q], want distinct non-empty", entries[0].ID, entries[1].ID)
	}
	if entries[0].TimestampMS == 0 {
		t.Fatalf("TimestampMS = 0, want generated timestamp")
	}
}

func TestMergeIsDeterministic(t *testing.T) {
	segments := []Segment{
		{ID: "a", ParticipantIdentity: "medical-assistant", TimestampMS: 300, Text: "three", Final: true},
		{ID: "b", ParticipantIdentity: "medical-assistant", TimestampMS: 100, Text: "one", Final: true},
	}
	chats := []ChatMessage{
		{ID: "c1", Author: "user", AuthorIsLocal: true, TimestampMS: 200, Text: "two"},
	}

	first, err := Merge(segments, chats, testRoster)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	second, err := Merge(segments, chats, testRoster)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("lens = %d/%d, want 3", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("entry %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
	if first[0].Text != "one" || first[1].Text != "two" || first[2].Text != "three" {
		t.Fatalf("order = [%q %q %q], want chronological", first[0].Text, first[1].Text, first[2].Text)
	}
}
