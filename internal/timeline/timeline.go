package timeline

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAuthorConflict reports a transport-contract violation: the same segment
// id was presented for two different participants. The revision is rejected
// rather than silently merged.
var ErrAuthorConflict = errors.New("segment id reused by a different participant")

// unknownAuthor is used when a segment arrives before its participant has
// been mirrored into the roster.
const unknownAuthor = "Unknown"

// Entry is the unified, displayable form of either a transcription segment
// or a chat message.
type Entry struct {
	ID            string `json:"id"`
	TimestampMS   int64  `json:"timestamp_ms"`
	Author        string `json:"author"`
	AuthorIsLocal bool   `json:"author_is_local"`
	Text          string `json:"text"`
	Final         bool   `json:"final"`
}

// Segment is a raw transcription unit. Interim segments carry Final=false
// and are revised in place under the same ID until the final revision.
type Segment struct {
	ID                  string
	ParticipantIdentity string
	TimestampMS         int64
	Text                string
	Final               bool
}

// ChatMessage is a raw typed chat message. Chat always has a definite author
// and is final on arrival.
type ChatMessage struct {
	ID            string
	Author        string
	AuthorIsLocal bool
	TimestampMS   int64
	Text          string
}

// Resolver maps a transcription participant identity to a display author.
// The local participant is matched first, then the remote roster.
type Resolver interface {
	Resolve(identity string) (name string, local bool, ok bool)
}

type slot struct {
	entry Entry
	seq   uint64
}

// Timeline maintains one ordered conversation out of the two event streams.
// Entries are kept sorted ascending by timestamp with arrival order breaking
// ties; a revision updates its entry in place and never moves it.
type Timeline struct {
	mu         sync.RWMutex
	slots      []*slot
	byID       map[string]*slot
	identities map[string]string
	seq        uint64
	now        func() time.Time
}

func New() *Timeline {
	return &Timeline{
		byID:       make(map[string]*slot),
		identities: make(map[string]string),
		now:        time.Now,
	}
}

// ApplySegment inserts a new transcription entry or revises the existing one
// with the same id. A revision keeps the entry's original position so the
// presented order never regresses.
func (t *Timeline) ApplySegment(seg Segment, resolver Resolver) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := seg.ID
	if id == "" {
		id = uuid.NewString()
	}

	author, local := unknownAuthor, false
	if resolver != nil && seg.ParticipantIdentity != "" {
		if name, isLocal, ok := resolver.Resolve(seg.ParticipantIdentity); ok {
			author, local = name, isLocal
		}
	}

	if existing, ok := t.byID[id]; ok {
		if prev := t.identities[id]; prev != "" && seg.ParticipantIdentity != "" && prev != seg.ParticipantIdentity {
			return ErrAuthorConflict
		}
		if existing.entry.Final && !seg.Final {
			// A final entry is settled; drop stray interim revisions.
			return nil
		}
		existing.entry.Text = seg.Text
		existing.entry.Final = seg.Final
		if existing.entry.Author == unknownAuthor && author != unknownAuthor {
			// The roster caught up since the first interim revision.
			existing.entry.Author = author
			existing.entry.AuthorIsLocal = local
		}
		return nil
	}

	ts := seg.TimestampMS
	if ts == 0 {
		ts = t.now().UnixMilli()
	}
	s := &slot{entry: Entry{
		ID:            id,
		TimestampMS:   ts,
		Author:        author,
		AuthorIsLocal: local,
		Text:          seg.Text,
		Final:         seg.Final,
	}}
	t.insert(s)
	t.byID[id] = s
	if seg.ParticipantIdentity != "" {
		t.identities[id] = seg.ParticipantIdentity
	}
	return nil
}

// AppendChat inserts a chat entry. Chat entries are never revised.
func (t *Timeline) AppendChat(msg ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := msg.TimestampMS
	if ts == 0 {
		ts = t.now().UnixMilli()
	}
	t.insert(&slot{entry: Entry{
		ID:            id,
		TimestampMS:   ts,
		Author:        msg.Author,
		AuthorIsLocal: msg.AuthorIsLocal,
		Text:          msg.Text,
		Final:         true,
	}})
}

// Entries returns the ordered conversation as a copy.
func (t *Timeline) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, len(t.slots))
	for i, s := range t.slots {
		out[i] = s.entry
	}
	return out
}

// Entry returns the current state of the entry with the given id.
func (t *Timeline) Entry(id string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.byID[id]; ok {
		return s.entry, true
	}
	return Entry{}, false
}

// Len reports the number of entries.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// insert places s after every existing entry with the same or an earlier
// timestamp, keeping the ordering stable.
func (t *Timeline) insert(s *slot) {
	t.seq++
	s.seq = t.seq

	i := sort.Search(len(t.slots), func(i int) bool {
		return t.slots[i].entry.TimestampMS > s.entry.TimestampMS
	})
	t.slots = append(t.slots, nil)
	copy(t.slots[i+1:], t.slots[i:])
	t.slots[i] = s
}

// Merge is the pure projection over complete input sequences: the same
// inputs always produce the same ordered output. Equal timestamps keep
// transcription entries ahead of chat, and arrival order within each class.
func Merge(segments []Segment, chats []ChatMessage, resolver Resolver) ([]Entry, error) {
	t := New()
	for _, seg := range segments {
		if err := t.ApplySegment(seg, resolver); err != nil {
			return nil, err
		}
	}
	for _, msg := range chats {
		t.AppendChat(msg)
	}
	return t.Entries(), nil
}
