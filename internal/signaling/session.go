package signaling

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/rooms"
)

const (
	wsWriteWait = 1 * time.Second

	// closeGracePeriod bounds how long the reader waits for the peer's close
	// frame after the server initiated a close.
	closeGracePeriod = 2 * time.Second

	closeGoingAway = websocket.CloseGoingAway
)

// session runs one signaling WebSocket. The reader goroutine owns dispatch;
// writePump owns every data write.
type session struct {
	srv  *Server
	conn *websocket.Conn
	c    *client
	log  *slog.Logger

	limiter *ratelimit.TokenBucket

	closing    atomic.Bool
	writerDone chan struct{}
}

func (s *session) run() {
	s.srv.hub.register(s.c)
	s.srv.metrics.Inc(metrics.WSConnected)
	s.log.Debug("signaling connection opened")

	go s.writePump()
	defer s.cleanup()

	s.send(EventConnectionReady, ConnectionReady{ConnectionID: s.c.id})

	s.conn.SetReadLimit(s.srv.maxMessageBytes)
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent CloseMessageTooBig.
				s.srv.metrics.Inc(metrics.BadMessage)
				s.log.Warn("signaling message too large", "limit", s.srv.maxMessageBytes)
			case isTimeout(err) && !s.closing.Load():
				s.closeWith(websocket.CloseNormalClosure, "idle timeout")
			}
			return
		}
		s.extendReadDeadline()

		// Rate limit after reading so the peer's bytes are consumed and it can
		// observe the close code instead of a reset.
		if !s.limiter.Allow(1) {
			s.srv.metrics.Inc(metrics.RateLimited)
			s.log.Warn("signaling rate limit exceeded")
			s.fail(CodeRateLimited, "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			s.srv.metrics.Inc(metrics.BadMessage)
			s.fail(CodeBadMessage, "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, ackID, err := ParseInbound(data)
		if err != nil {
			s.srv.metrics.Inc(metrics.BadMessage)
			s.log.Warn("bad signaling message", "err", err)
			s.fail(CodeBadMessage, err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}
		s.dispatch(msg, ackID)
	}
}

func (s *session) dispatch(msg Inbound, ackID *int64) {
	id := s.c.id
	switch m := msg.(type) {
	case CreateRoom:
		key, err := s.srv.manager.CreateRoom(id, m.DisplayName)
		if err != nil {
			s.rejectMembership(err)
			s.ack(ackID, nil, membershipError(err))
			return
		}
		s.ack(ackID, key, nil)

	case JoinRoom:
		if err := s.srv.manager.JoinRoom(id, m.RoomKey, m.DisplayName); err != nil {
			s.rejectMembership(err)
			s.ack(ackID, JoinFailure, nil)
			return
		}
		s.ack(ackID, JoinSuccess, nil)

	case LeaveRoom:
		s.srv.manager.LeaveRoom(id, m.RoomKey)

	case Signal:
		s.log.Debug("forwarding signal", "kind", m.Kind.String(), "room_key", m.RoomKey, "to", m.Message.To)
		s.srv.router.ForwardSignal(id, m.Kind, m.Message)

	case TrackInfo:
		s.srv.router.ForwardTrackInfo(id, m.Message)

	case MicStatusChanged:
		s.srv.manager.RelayMicStatus(id, m.RoomKey, m.MicEnabled)

	default:
		s.log.Error("unhandled inbound message", "type", fmt.Sprintf("%T", msg))
	}
}

// rejectMembership tells the client why a create/join was refused when the
// ack alone would not say so.
func (s *session) rejectMembership(err error) {
	if errors.Is(err, rooms.ErrAlreadyInRoom) {
		s.sendError(CodeAlreadyInRoom, "connection is already in a room")
	}
}

func membershipError(err error) *wireError {
	if errors.Is(err, rooms.ErrAlreadyInRoom) {
		return &wireError{Code: CodeAlreadyInRoom, Message: "connection is already in a room"}
	}
	return &wireError{Code: CodeInternalError, Message: "failed to create room"}
}

func (s *session) ack(ackID *int64, result any, werr *wireError) {
	if ackID == nil {
		return
	}
	b, err := encodeFrame(EventAck, ackID, result, werr)
	if err != nil {
		s.log.Error("encode ack", "err", err)
		return
	}
	s.srv.hub.enqueue(s.c, b, EventAck)
}

func (s *session) sendError(code, message string) {
	s.send(EventError, wireError{Code: code, Message: message})
}

// send queues a frame for this connection only.
func (s *session) send(event string, payload any) {
	b, err := encodeFrame(event, nil, payload, nil)
	if err != nil {
		s.log.Error("encode frame", "event", event, "err", err)
		return
	}
	s.srv.hub.enqueue(s.c, b, event)
}

// fail reports a protocol error to the client and closes the connection.
func (s *session) fail(code, message string, closeCode int, closeReason string) {
	s.sendError(code, message)
	s.closeWith(closeCode, closeReason)
}

// closeWith has the writer flush queued frames, then send a close frame, and
// waits for it to finish.
func (s *session) closeWith(code int, reason string) {
	s.c.requestClose(code, reason)
	select {
	case <-s.writerDone:
	case <-time.After(wsWriteWait + closeGracePeriod):
	}
}

func (s *session) extendReadDeadline() {
	if s.closing.Load() {
		return
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.idleTimeout))
}

func (s *session) writePump() {
	defer close(s.writerDone)

	ticker := time.NewTicker(s.srv.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case b := <-s.c.send:
			if err := s.write(b); err != nil {
				_ = s.conn.Close()
				return
			}
		case req := <-s.c.closeReq:
			s.flush()
			s.closing.Store(true)
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(req.code, req.reason), time.Now().Add(wsWriteWait))
			// Give the peer a moment to answer with its own close frame.
			_ = s.conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = s.conn.Close()
				return
			}
		case <-s.c.done:
			return
		}
	}
}

// flush writes whatever is already queued without waiting for more.
func (s *session) flush() {
	for {
		select {
		case b := <-s.c.send:
			if err := s.write(b); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *session) write(b []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *session) cleanup() {
	left := s.srv.manager.HandleDisconnect(s.c.id)
	s.srv.hub.unregister(s.c.id)
	s.c.stop()
	_ = s.conn.Close()
	<-s.writerDone

	s.srv.metrics.Inc(metrics.WSDisconnected)
	s.log.Debug("signaling connection closed", "rooms_left", left)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
