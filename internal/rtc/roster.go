package rtc

import (
	"sort"
	"sync"
)

// Roster mirrors the room participant set as reported by the transport.
// Readers always get copies; a torn participant list is never observable.
type Roster struct {
	mu      sync.RWMutex
	local   Participant
	remotes map[string]Participant
}

func NewRoster() *Roster {
	return &Roster{remotes: make(map[string]Participant)}
}

func (r *Roster) SetLocal(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.IsLocal = true
	r.local = p
}

func (r *Roster) Add(p Participant) {
	if p.Identity == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p.IsLocal = false
	r.remotes[p.Identity] = p
}

func (r *Roster) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remotes, identity)
}

// Participants returns the local participant (when set) followed by remotes
// in identity order.
func (r *Roster) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Participant, 0, len(r.remotes)+1)
	if r.local.Identity != "" {
		out = append(out, r.local)
	}
	keys := make([]string, 0, len(r.remotes))
	for id := range r.remotes {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	for _, id := range keys {
		out = append(out, r.remotes[id])
	}
	return out
}

// Resolve implements timeline.Resolver: the local participant is matched
// first, then the remote roster.
func (r *Roster) Resolve(identity string) (string, bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if identity == "" {
		return "", false, false
	}
	if r.local.Identity == identity {
		return r.local.Name, true, true
	}
	if p, ok := r.remotes[identity]; ok {
		return p.Name, false, true
	}
	return "", false, false
}
