package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/rooms"
)

// Inbound event names.
const (
	EventRoomCreate = "room:create"
	EventRoomJoin   = "room:join"
	EventRoomLeave  = "room:leave"

	EventSignalOffer        = "signal:offer"
	EventSignalAnswer       = "signal:answer"
	EventSignalICECandidate = "signal:iceCandidate"
	EventSignalTrackInfo    = "signal:trackInfo"

	EventMicStatusChanged = "participant:micStatusChanged"
)

// Server-originated frame events.
const (
	EventAck   = "ack"
	EventError = "error"

	// EventConnectionReady is the first frame on every connection and carries
	// the connection's own ID.
	EventConnectionReady = "connection:ready"
)

// ConnectionReady is the payload of connection:ready.
type ConnectionReady struct {
	ConnectionID string `json:"connectionId"`
}

// Error codes carried by error frames.
const (
	CodeBadMessage    = "bad_message"
	CodeRateLimited   = "rate_limited"
	CodeAlreadyInRoom = "already_in_room"
	CodeInternalError = "internal_error"
)

// Ack results for room:join.
const (
	JoinSuccess = "success"
	JoinFailure = "failure"
)

// Inbound is a decoded client message. The set of implementations is closed.
type Inbound interface {
	inbound()
}

type CreateRoom struct {
	DisplayName string
}

type JoinRoom struct {
	RoomKey     string
	DisplayName string
}

type LeaveRoom struct {
	RoomKey string
}

// Signal is an offer, answer or ICE candidate addressed to one connection.
type Signal struct {
	Kind    rooms.SignalKind
	RoomKey string
	Message rooms.SignalMessage
}

type TrackInfo struct {
	RoomKey string
	Message rooms.TrackInfoMessage
}

type MicStatusChanged struct {
	RoomKey    string
	MicEnabled bool
}

func (CreateRoom) inbound()       {}
func (JoinRoom) inbound()         {}
func (LeaveRoom) inbound()        {}
func (Signal) inbound()           {}
func (TrackInfo) inbound()        {}
func (MicStatusChanged) inbound() {}

// inboundFrame is the envelope of every client frame.
type inboundFrame struct {
	Event string          `json:"event"`
	AckID *int64          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// outboundFrame is the envelope of every server frame.
type outboundFrame struct {
	Event string     `json:"event"`
	AckID *int64     `json:"ackId,omitempty"`
	Data  any        `json:"data,omitempty"`
	Error *wireError `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createRoomData struct {
	DisplayName string `json:"displayName"`
}

type joinRoomData struct {
	RoomKey     string `json:"roomKey"`
	DisplayName string `json:"displayName"`
}

type leaveRoomData struct {
	RoomKey string `json:"roomKey"`
}

type signalData struct {
	RoomKey string               `json:"roomKey"`
	Message *rooms.SignalMessage `json:"message"`
}

type trackInfoData struct {
	RoomKey string                  `json:"roomKey"`
	Message *rooms.TrackInfoMessage `json:"message"`
}

type micStatusData struct {
	RoomKey    string `json:"roomKey"`
	MicEnabled *bool  `json:"micEnabled"`
}

var errMissingData = errors.New("missing data")

// ParseInbound decodes one client frame. ackID is nil when the client did not
// request an acknowledgement.
func ParseInbound(b []byte) (msg Inbound, ackID *int64, err error) {
	var f inboundFrame
	if err := decodeStrictJSON(b, &f); err != nil {
		return nil, nil, fmt.Errorf("invalid frame: %w", err)
	}
	if f.Event == "" {
		return nil, nil, errors.New("missing event")
	}
	if len(bytes.TrimSpace(f.Data)) == 0 || bytes.Equal(bytes.TrimSpace(f.Data), []byte("null")) {
		return nil, nil, fmt.Errorf("%s: %w", f.Event, errMissingData)
	}

	msg, err = parseData(f.Event, f.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", f.Event, err)
	}
	return msg, f.AckID, nil
}

func parseData(event string, data json.RawMessage) (Inbound, error) {
	switch event {
	case EventRoomCreate:
		var d createRoomData
		if err := decodeStrictJSON(data, &d); err != nil {
			return nil, err
		}
		return CreateRoom{DisplayName: d.DisplayName}, nil

	case EventRoomJoin:
		var d joinRoomData
		if err := decodeStrictJSON(data, &d); err != nil {
			return nil, err
		}
		if d.RoomKey == "" {
			return nil, errors.New("missing roomKey")
		}
		return JoinRoom{RoomKey: d.RoomKey, DisplayName: d.DisplayName}, nil

	case EventRoomLeave:
		var d leaveRoomData
		if err := decodeStrictJSON(data, &d); err != nil {
			return nil, err
		}
		if d.RoomKey == "" {
			return nil, errors.New("missing roomKey")
		}
		return LeaveRoom{RoomKey: d.RoomKey}, nil

	case EventSignalOffer, EventSignalAnswer, EventSignalICECandidate:
		var d signalData
		if err := decodeStrictJSON(data, &d); err != nil {
			return nil, err
		}
		if d.Message == nil {
			return nil, errors.New("missing message")
		}
		if d.Message.To == "" {
			return nil, errors.New("missing message.to")
		}
		return Signal{Kind: signalKinds[event], RoomKey: d.RoomKey, Message: *d.Message}, nil

	case EventSignalTrackInfo:
		var d trackInfoData
		if err := decodeStrictJSON(data, &d); err != nil {
			return nil, err
		}
		if d.Message == nil {
			return nil, errors.New("missing message")
		}
		if d.Message.To == "" {
			return nil, errors.New("missing message.to")
		}
		return TrackInfo{RoomKey: d.RoomKey, Message: *d.Message}, nil

	case EventMicStatusChanged:
		var d micStatusData
		if err := decodeStrictJSON(data, &d); err != nil {
			return nil, err
		}
		if d.RoomKey == "" {
			return nil, errors.New("missing roomKey")
		}
		if d.MicEnabled == nil {
			return nil, errors.New("missing micEnabled")
		}
		return MicStatusChanged{RoomKey: d.RoomKey, MicEnabled: *d.MicEnabled}, nil

	default:
		return nil, fmt.Errorf("unsupported event %q", event)
	}
}

var signalKinds = map[string]rooms.SignalKind{
	EventSignalOffer:        rooms.SignalOffer,
	EventSignalAnswer:       rooms.SignalAnswer,
	EventSignalICECandidate: rooms.SignalICECandidate,
}

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return expectEOF(dec)
}

func expectEOF(dec *json.Decoder) error {
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

func encodeFrame(event string, ackID *int64, payload any, werr *wireError) ([]byte, error) {
	return json.Marshal(outboundFrame{Event: event, AckID: ackID, Data: payload, Error: werr})
}
