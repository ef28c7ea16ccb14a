package rooms

import "sync"

// Participant is one connection's membership entry in a room.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// Room is a point-in-time copy of a room's state.
type Room struct {
	Key          string
	Participants []Participant
}

// Has reports whether connID is listed in the snapshot.
func (r Room) Has(connID string) bool {
	for _, p := range r.Participants {
		if p.ConnectionID == connID {
			return true
		}
	}
	return false
}

// Others returns the participants other than connID, in insertion order. The
// result is never nil so it encodes as an empty JSON array.
func (r Room) Others(connID string) []Participant {
	out := make([]Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.ConnectionID != connID {
			out = append(out, p)
		}
	}
	return out
}

// Registry maps room keys to their participant lists.
//
// Every method is atomic on its own. Sequences that must observe a consistent
// state across several calls (lookup, add, then announce) are serialized by
// Manager.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string][]Participant
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string][]Participant)}
}

// Get returns a copy of the room stored under key.
func (r *Registry) Get(key string) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	participants, ok := r.rooms[key]
	if !ok {
		return Room{}, false
	}
	return Room{Key: key, Participants: append([]Participant(nil), participants...)}, true
}

// Create inserts an empty room under key.
//
// An empty room violates the registry invariant until its creator is added, so
// Create is only called by Manager while it holds its lock.
func (r *Registry) Create(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[key]; ok {
		return ErrRoomExists
	}
	r.rooms[key] = []Participant{}
	return nil
}

// AddParticipant appends p to the room's participant list.
func (r *Registry) AddParticipant(key string, p Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	participants, ok := r.rooms[key]
	if !ok {
		return ErrRoomNotFound
	}
	r.rooms[key] = append(participants, p)
	return nil
}

// RemoveParticipant removes connID from the room. When that leaves the room
// empty the room is deleted in the same critical section.
//
// removed is false when the room or the participant does not exist.
func (r *Registry) RemoveParticipant(key, connID string) (removed, deleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	participants, ok := r.rooms[key]
	if !ok {
		return false, false
	}

	kept := participants[:0]
	for _, p := range participants {
		if p.ConnectionID == connID {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	if !removed {
		return false, false
	}
	// Clear the tail so dropped entries don't linger in the backing array.
	for i := len(kept); i < len(participants); i++ {
		participants[i] = Participant{}
	}

	if len(kept) == 0 {
		delete(r.rooms, key)
		return true, true
	}
	r.rooms[key] = kept
	return true, false
}

// RoomsOf scans every room and returns the keys of those listing connID.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var keys []string
	for key, participants := range r.rooms {
		for _, p := range participants {
			if p.ConnectionID == connID {
				keys = append(keys, key)
				break
			}
		}
	}
	return keys
}

// Len returns the number of rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ParticipantCount returns the number of participants across all rooms.
func (r *Registry) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, participants := range r.rooms {
		n += len(participants)
	}
	return n
}

// Snapshot returns copies of every room, in no particular order.
func (r *Registry) Snapshot() []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Room, 0, len(r.rooms))
	for key, participants := range r.rooms {
		out = append(out, Room{Key: key, Participants: append([]Participant(nil), participants...)})
	}
	return out
}
