package signaling

import (
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/rooms"
)

const (
	connIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_-"
	connIDLength   = 20
)

func newConnID() (string, error) {
	return gonanoid.Generate(connIDAlphabet, connIDLength)
}

// client is the hub's view of one connection: an ID and a bounded queue of
// encoded frames drained by the connection's writer.
type client struct {
	id   string
	send chan []byte

	// closeReq asks the writer to flush queued frames and send a close frame.
	closeReq chan closeRequest

	done     chan struct{}
	doneOnce sync.Once
}

type closeRequest struct {
	code   int
	reason string
}

func newClient(id string, queueLen int) *client {
	return &client{
		id:       id,
		send:     make(chan []byte, queueLen),
		closeReq: make(chan closeRequest, 1),
		done:     make(chan struct{}),
	}
}

// stop releases the writer. send is never closed, so late enqueues from
// concurrent broadcasts are harmless.
func (c *client) stop() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Hub tracks live connections and room broadcast groups and implements
// rooms.Transport on top of them.
//
// Sends never block: a frame for a connection whose queue is full is dropped
// and counted.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*client
	groups  map[string]map[string]struct{}
}

var _ rooms.Transport = (*Hub)(nil)

func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: m,
		clients: make(map[string]*client),
		groups:  make(map[string]map[string]struct{}),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

// unregister forgets the connection and strips it from every group.
func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
	for key, members := range h.groups {
		delete(members, id)
		if len(members) == 0 {
			delete(h.groups, key)
		}
	}
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Groups returns the number of non-empty broadcast groups.
func (h *Hub) Groups() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

func (h *Hub) Emit(connID, event string, payload any) {
	b, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		h.log.Debug("emit to unknown connection", "conn_id", connID, "event", event)
		return
	}
	h.enqueue(c, b, event)
}

func (h *Hub) BroadcastToRoom(roomKey, event string, payload any, excludeConnID string) {
	b, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range h.groups[roomKey] {
		if id == excludeConnID {
			continue
		}
		if c := h.clients[id]; c != nil {
			h.enqueue(c, b, event)
		}
	}
}

func (h *Hub) JoinGroup(connID, roomKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.groups[roomKey]
	if members == nil {
		members = make(map[string]struct{})
		h.groups[roomKey] = members
	}
	members[connID] = struct{}{}
}

func (h *Hub) LeaveGroup(connID, roomKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.groups[roomKey]
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, roomKey)
	}
}

// CloseAll asks every live connection to close with a going-away frame.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.requestClose(closeGoingAway, reason)
	}
}

func (h *Hub) encode(event string, payload any) ([]byte, bool) {
	b, err := encodeFrame(event, nil, payload, nil)
	if err != nil {
		h.log.Error("encode outbound frame", "event", event, "err", err)
		return nil, false
	}
	return b, true
}

func (h *Hub) enqueue(c *client, b []byte, event string) {
	select {
	case c.send <- b:
	default:
		h.metrics.Inc(metrics.SendDropped)
		h.log.Warn("send queue full; dropping frame", "conn_id", c.id, "event", event)
	}
}

func (c *client) requestClose(code int, reason string) {
	select {
	case c.closeReq <- closeRequest{code: code, reason: reason}:
	default:
		// A close is already pending.
	}
}
