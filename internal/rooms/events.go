package rooms

// Outbound event names emitted to connections.
const (
	EventRoomJoined               = "room:joined"
	EventRoomNotFound             = "room:notFound"
	EventRoomExistingParticipants = "room:existingParticipants"

	EventParticipantNew              = "participant:new"
	EventParticipantLeft             = "participant:left"
	EventParticipantMicStatusChanged = "participant:micStatusChanged"

	EventSignalOfferAwaiting        = "signal:offerAwaiting"
	EventSignalAnswerResponse       = "signal:answerResponse"
	EventSignalICECandidateReceived = "signal:iceCandidateReceived"
	EventSignalTrackInfo            = "signal:trackInfo"
)

// ParticipantLeft is the payload of participant:left.
type ParticipantLeft struct {
	ConnectionID string `json:"connectionId"`
}

// MicStatus is the payload of participant:micStatusChanged.
type MicStatus struct {
	ConnectionID string `json:"connectionId"`
	MicEnabled   bool   `json:"micEnabled"`
}

// ForwardedSignal is the payload of every signal:* event delivered to a peer.
// Content is the sender's payload, unmodified.
type ForwardedSignal struct {
	SenderConnectionID string `json:"senderConnectionId"`
	Content            any    `json:"content"`
}

// Transport delivers events to connections. Implementations must not block:
// sends are fire-and-forget and may be dropped for connections that no longer
// exist.
type Transport interface {
	// Emit sends one event to a single connection.
	Emit(connID, event string, payload any)

	// BroadcastToRoom sends one event to every connection subscribed to the
	// room's group, except excludeConnID when it is non-empty.
	BroadcastToRoom(roomKey, event string, payload any, excludeConnID string)

	JoinGroup(connID, roomKey string)
	LeaveGroup(connID, roomKey string)
}
