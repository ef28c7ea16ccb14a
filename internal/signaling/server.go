package signaling

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/rooms"
)

const (
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultMaxMessageBytes      = 64 << 10
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueLen         = 256
)

type Config struct {
	// Hub, Manager and Router are created on demand when nil. A supplied
	// Manager must use Hub as its transport.
	Hub     *Hub
	Manager *rooms.Manager
	Router  *rooms.Router

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// CheckOrigin validates the upgrade request's Origin header. Defaults to
	// the same-host policy.
	CheckOrigin func(r *http.Request) bool

	// UpgradeLimiter bounds upgrades per client IP. Nil disables it.
	UpgradeLimiter *ratelimit.IPLimiter

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueLen         int
}

// Server serves the signaling WebSocket endpoint.
type Server struct {
	hub     *Hub
	manager *rooms.Manager
	router  *rooms.Router
	log     *slog.Logger
	metrics *metrics.Metrics

	upgrader       websocket.Upgrader
	upgradeLimiter *ratelimit.IPLimiter

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int
	sendQueueLen         int

	sessions sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(log, cfg.Metrics)
	}
	manager := cfg.Manager
	if manager == nil {
		manager = rooms.NewManager(rooms.ManagerConfig{
			Transport: hub,
			Logger:    log,
			Metrics:   cfg.Metrics,
		})
	}
	router := cfg.Router
	if router == nil {
		router = rooms.NewRouter(hub, cfg.Metrics)
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		sameHost, _ := origin.NewPolicy(nil)
		checkOrigin = sameHost.CheckRequest
	}

	s := &Server{
		hub:                  hub,
		manager:              manager,
		router:               router,
		log:                  log,
		metrics:              cfg.Metrics,
		upgradeLimiter:       cfg.UpgradeLimiter,
		idleTimeout:          orDefault(cfg.IdleTimeout, DefaultIdleTimeout),
		pingInterval:         orDefault(cfg.PingInterval, DefaultPingInterval),
		maxMessageBytes:      orDefault(cfg.MaxMessageBytes, DefaultMaxMessageBytes),
		maxMessagesPerSecond: orDefault(cfg.MaxMessagesPerSecond, DefaultMaxMessagesPerSecond),
		sendQueueLen:         orDefault(cfg.SendQueueLen, DefaultSendQueueLen),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: checkOrigin,
	}
	return s
}

func orDefault[T int | int64 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Manager() *rooms.Manager {
	return s.manager
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	onReject := func(r *http.Request) {
		s.metrics.Inc(metrics.RateLimited)
		s.log.Warn("signaling upgrade rate limited", "remote_ip", ratelimit.ClientIP(r))
	}
	mux.Handle("GET /signal", s.upgradeLimiter.Middleware(onReject, http.HandlerFunc(s.handleSignal)))
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	// Upgrade replies with an HTTP error itself, including 403 for a rejected
	// Origin.
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("signaling upgrade failed", "err", err)
		return
	}

	id, err := newConnID()
	if err != nil {
		s.log.Error("generate connection id", "err", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"), time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	sess := &session{
		srv:  s,
		conn: conn,
		c:    newClient(id, s.sendQueueLen),
		log:  s.log.With("conn_id", id),
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.maxMessagesPerSecond),
			int64(s.maxMessagesPerSecond),
		),
		writerDone: make(chan struct{}),
	}
	sess.run()
}

// Shutdown asks every open connection to close and waits for their sessions
// to finish or ctx to expire. http.Server.Shutdown does not track hijacked
// connections, so this must be called alongside it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll("server shutting down")

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
