package rooms

import (
	"sync"
)

type sentEvent struct {
	To      string
	Event   string
	Payload any
}

// recordingTransport delivers broadcasts to group members and records every
// event per recipient.
type recordingTransport struct {
	mu     sync.Mutex
	groups map[string]map[string]struct{}
	events []sentEvent
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{groups: make(map[string]map[string]struct{})}
}

func (t *recordingTransport) Emit(connID, event string, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, sentEvent{To: connID, Event: event, Payload: payload})
}

func (t *recordingTransport) BroadcastToRoom(roomKey, event string, payload any, exclude string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.groups[roomKey] {
		if id == exclude {
			continue
		}
		t.events = append(t.events, sentEvent{To: id, Event: event, Payload: payload})
	}
}

func (t *recordingTransport) JoinGroup(connID, roomKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g := t.groups[roomKey]
	if g == nil {
		g = make(map[string]struct{})
		t.groups[roomKey] = g
	}
	g[connID] = struct{}{}
}

func (t *recordingTransport) LeaveGroup(connID, roomKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.groups[roomKey], connID)
	if len(t.groups[roomKey]) == 0 {
		delete(t.groups, roomKey)
	}
}

// take returns and clears the events recorded for connID.
func (t *recordingTransport) take(connID string) []sentEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var mine, rest []sentEvent
	for _, ev := range t.events {
		if ev.To == connID {
			mine = append(mine, ev)
		} else {
			rest = append(rest, ev)
		}
	}
	t.events = rest
	return mine
}

func (t *recordingTransport) total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

func eventNames(evs []sentEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Event)
	}
	return out
}
