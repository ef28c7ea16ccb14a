package metrics

import "sync"

// Event counter names.
const (
	RoomCreated      = "room_created"
	RoomDeleted      = "room_deleted"
	RoomJoined       = "room_joined"
	RoomNotFound     = "room_not_found"
	JoinRejected     = "join_rejected"
	ParticipantLeft  = "participant_left"
	SignalForwarded  = "signal_forwarded"
	MicStatusRelayed = "mic_status_relayed"

	WSConnected    = "ws_connected"
	WSDisconnected = "ws_disconnected"

	// Drop reasons.
	SendDropped = "send_dropped"
	BadMessage  = "bad_message"
	RateLimited = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards every update, so components can be
// constructed without one in tests.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
