package rooms

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

// SignalKind identifies which signaling message is being forwarded.
type SignalKind int

const (
	SignalOffer SignalKind = iota + 1
	SignalAnswer
	SignalICECandidate
	SignalTrackInfo
)

// OutboundEvent returns the event name a forwarded message of this kind is
// delivered under.
func (k SignalKind) OutboundEvent() string {
	switch k {
	case SignalOffer:
		return EventSignalOfferAwaiting
	case SignalAnswer:
		return EventSignalAnswerResponse
	case SignalICECandidate:
		return EventSignalICECandidateReceived
	case SignalTrackInfo:
		return EventSignalTrackInfo
	default:
		return ""
	}
}

func (k SignalKind) String() string {
	switch k {
	case SignalOffer:
		return "offer"
	case SignalAnswer:
		return "answer"
	case SignalICECandidate:
		return "ice_candidate"
	case SignalTrackInfo:
		return "track_info"
	default:
		return "unknown"
	}
}

// SignalMessage carries an opaque SDP or ICE payload to one connection.
type SignalMessage struct {
	Content string `json:"content"`
	To      string `json:"to"`
}

// TrackInfoMessage describes a media track to one connection.
type TrackInfoMessage struct {
	To        string `json:"to"`
	TrackID   string `json:"trackId"`
	MediaType string `json:"mediaType"`
}

// TrackInfo is the content of a forwarded signal:trackInfo event.
type TrackInfo struct {
	TrackID   string `json:"trackId"`
	MediaType string `json:"mediaType"`
}

// Router forwards signaling messages between connections.
//
// It holds no state and does not consult the registry: the recipient is not
// checked for existence or for sharing a room with the sender. Knowing a
// connection ID is enough to address it, the same way knowing a room key is
// enough to join the room.
type Router struct {
	transport Transport
	metrics   *metrics.Metrics
}

func NewRouter(transport Transport, m *metrics.Metrics) *Router {
	return &Router{transport: transport, metrics: m}
}

// Forward sends exactly one event to the connection named by to, tagged with
// the sender's connection ID.
func (r *Router) Forward(senderConnID, to, event string, content any) {
	r.transport.Emit(to, event, ForwardedSignal{
		SenderConnectionID: senderConnID,
		Content:            content,
	})
	r.metrics.Inc(metrics.SignalForwarded)
}

// ForwardSignal forwards an offer, answer or ICE candidate.
func (r *Router) ForwardSignal(senderConnID string, kind SignalKind, msg SignalMessage) {
	r.Forward(senderConnID, msg.To, kind.OutboundEvent(), msg.Content)
}

// ForwardTrackInfo forwards a track-info message.
func (r *Router) ForwardTrackInfo(senderConnID string, msg TrackInfoMessage) {
	r.Forward(senderConnID, msg.To, SignalTrackInfo.OutboundEvent(), TrackInfo{
		TrackID:   msg.TrackID,
		MediaType: msg.MediaType,
	})
}
