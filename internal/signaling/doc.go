// Package signaling adapts WebSocket connections to the room core.
//
// Each connection gets an opaque ID and a bounded outbound queue. Inbound
// frames are decoded into a closed set of message types and dispatched to
// rooms.Manager and rooms.Router; the Hub implements rooms.Transport so the
// core can address connections and room broadcast groups without knowing
// about WebSockets.
//
// Wire format (JSON text frames):
//
//	{"event": "room:join", "ackId": 1, "data": {"roomKey": "...", "displayName": "bob"}}
//	{"event": "ack", "ackId": 1, "data": "success"}
//	{"event": "error", "data": {"code": "bad_message", "message": "..."}}
package signaling
