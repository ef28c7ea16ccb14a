package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testFrame struct {
	Event string          `json:"event"`
	AckID *int64          `json:"ackId"`
	Data  json.RawMessage `json:"data"`
	Error *wireError      `json:"error"`
}

func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal"
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

// dial connects and consumes the connection:ready frame.
func dial(t *testing.T, wsURL string) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &testClient{t: t, conn: conn}
	f := c.read()
	if f.Event != EventConnectionReady {
		t.Fatalf("first frame=%q, want %q", f.Event, EventConnectionReady)
	}
	var ready ConnectionReady
	c.decode(f.Data, &ready)
	if ready.ConnectionID == "" {
		t.Fatalf("connection:ready without id")
	}
	c.id = ready.ConnectionID
	return c
}

func (c *testClient) send(event string, ackID int64, data any) {
	c.t.Helper()
	frame := map[string]any{"event": event, "data": data}
	if ackID != 0 {
		frame["ackId"] = ackID
	}
	b, err := json.Marshal(frame)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) read() testFrame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var f testFrame
	if err := json.Unmarshal(b, &f); err != nil {
		c.t.Fatalf("unmarshal %s: %v", b, err)
	}
	return f
}

func (c *testClient) expect(event string) testFrame {
	c.t.Helper()
	f := c.read()
	if f.Event != event {
		c.t.Fatalf("event=%q data=%s, want %q", f.Event, f.Data, event)
	}
	return f
}

// expectSilence fails if a frame arrives within d. gorilla treats a read
// timeout as fatal, so the connection cannot be read afterwards.
func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	_, b, err := c.conn.ReadMessage()
	if err == nil {
		c.t.Fatalf("unexpected frame %s", b)
	}
	if !isTimeout(err) {
		c.t.Fatalf("unexpected read error: %v", err)
	}
}

// expectClose reads until the server closes and returns the close error.
func (c *testClient) expectClose() *websocket.CloseError {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		ce, ok := err.(*websocket.CloseError)
		if !ok {
			c.t.Fatalf("expected close error, got %v", err)
		}
		return ce
	}
}

func (c *testClient) decode(raw json.RawMessage, v any) {
	c.t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		c.t.Fatalf("decode %s: %v", raw, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
