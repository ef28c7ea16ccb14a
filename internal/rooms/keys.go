package rooms

import "github.com/google/uuid"

// NewRoomKey returns a random (version 4) UUID string.
//
// Room keys double as the only capability needed to join a room, so they must
// not be guessable.
func NewRoomKey() string {
	return uuid.NewString()
}
