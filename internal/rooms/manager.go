package rooms

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

// ManagerConfig wires a Manager to its dependencies.
type ManagerConfig struct {
	Registry  *Registry
	Transport Transport

	// NewKey generates room keys. Defaults to NewRoomKey.
	NewKey func() string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Manager implements room membership: create, join, leave and disconnect.
//
// All membership operations run under a single mutex so that each registry
// mutation and the events announcing it are observed as one step: a joiner's
// existing-participant snapshot always matches the membership immediately
// before the join, and every announcement reaches exactly the members present
// at that point.
type Manager struct {
	mu sync.Mutex

	registry  *Registry
	transport Transport
	newKey    func() string
	log       *slog.Logger
	metrics   *metrics.Metrics
}

func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		registry:  cfg.Registry,
		transport: cfg.Transport,
		newKey:    cfg.NewKey,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if m.registry == nil {
		m.registry = NewRegistry()
	}
	if m.newKey == nil {
		m.newKey = NewRoomKey
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// Registry returns the registry the manager operates on.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// CreateRoom creates a room, joins connID to it as its first participant and
// returns the new room key.
func (m *Manager) CreateRoom(connID, displayName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keys := m.registry.RoomsOf(connID); len(keys) > 0 {
		m.metrics.Inc(metrics.JoinRejected)
		return "", fmt.Errorf("create room: %w (room %s)", ErrAlreadyInRoom, keys[0])
	}

	key := m.newKey()
	if err := m.registry.Create(key); err != nil {
		return "", fmt.Errorf("create room %s: %w", key, err)
	}
	m.metrics.Inc(metrics.RoomCreated)
	m.log.Info("room created", "room_key", key, "conn_id", connID)

	room, _ := m.registry.Get(key)
	if err := m.joinLocked(connID, room, displayName); err != nil {
		// Only reachable if the registry was mutated behind the manager's back.
		return "", fmt.Errorf("create room %s: %w", key, err)
	}
	return key, nil
}

// JoinRoom adds connID to the room stored under key.
//
// An unknown key emits room:notFound to the requester and returns
// ErrRoomNotFound. A connection that is already in a room gets
// ErrAlreadyInRoom and the registry is left untouched.
func (m *Manager) JoinRoom(connID, key, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.registry.Get(key)
	if !ok {
		m.metrics.Inc(metrics.RoomNotFound)
		m.log.Debug("join for unknown room", "room_key", key, "conn_id", connID)
		m.transport.Emit(connID, EventRoomNotFound, nil)
		return fmt.Errorf("join room %s: %w", key, ErrRoomNotFound)
	}
	if keys := m.registry.RoomsOf(connID); len(keys) > 0 {
		m.metrics.Inc(metrics.JoinRejected)
		m.log.Debug("join rejected", "room_key", key, "current_room_key", keys[0], "conn_id", connID)
		return fmt.Errorf("join room %s: %w (room %s)", key, ErrAlreadyInRoom, keys[0])
	}
	return m.joinLocked(connID, room, displayName)
}

// joinLocked runs the join sequence against room, a snapshot taken under m.mu.
func (m *Manager) joinLocked(connID string, room Room, displayName string) error {
	existing := room.Others(connID)

	p := Participant{ConnectionID: connID, DisplayName: displayName}
	if err := m.registry.AddParticipant(room.Key, p); err != nil {
		return err
	}
	m.transport.JoinGroup(connID, room.Key)

	m.transport.Emit(connID, EventRoomJoined, room.Key)
	m.transport.Emit(connID, EventRoomExistingParticipants, existing)
	m.transport.BroadcastToRoom(room.Key, EventParticipantNew, p, connID)

	m.metrics.Inc(metrics.RoomJoined)
	m.log.Info("participant joined", "room_key", room.Key, "conn_id", connID, "participants", len(existing)+1)
	return nil
}

// LeaveRoom removes connID from the room stored under key and announces the
// departure to the remaining members. It reports whether connID was a
// participant; leaving a room one is not in is a silent no-op.
func (m *Manager) LeaveRoom(connID, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(connID, key)
}

func (m *Manager) leaveLocked(connID, key string) bool {
	removed, deleted := m.registry.RemoveParticipant(key, connID)
	if !removed {
		return false
	}
	m.transport.LeaveGroup(connID, key)
	m.metrics.Inc(metrics.ParticipantLeft)

	if deleted {
		m.metrics.Inc(metrics.RoomDeleted)
		m.log.Info("room deleted", "room_key", key, "conn_id", connID)
		return true
	}

	// The leaver is no longer subscribed, so a room-wide broadcast reaches only
	// the remaining members.
	m.transport.BroadcastToRoom(key, EventParticipantLeft, ParticipantLeft{ConnectionID: connID}, "")
	m.log.Info("participant left", "room_key", key, "conn_id", connID)
	return true
}

// HandleDisconnect runs the leave sequence for every room listing connID and
// returns how many rooms it left. It tolerates zero matches, so it is safe to
// call after an explicit leave has already completed.
func (m *Manager) HandleDisconnect(connID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, key := range m.registry.RoomsOf(connID) {
		if m.leaveLocked(connID, key) {
			n++
		}
	}
	return n
}

// RelayMicStatus broadcasts connID's microphone state to the other members of
// the room. It is unacknowledged and does not check membership.
func (m *Manager) RelayMicStatus(connID, key string, micEnabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transport.BroadcastToRoom(key, EventParticipantMicStatusChanged, MicStatus{
		ConnectionID: connID,
		MicEnabled:   micEnabled,
	}, connID)
	m.metrics.Inc(metrics.MicStatusRelayed)
}
