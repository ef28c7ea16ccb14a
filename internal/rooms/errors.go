package rooms

import "errors"

var (
	// ErrRoomNotFound is returned when an operation names a room key that is not
	// present in the registry.
	ErrRoomNotFound = errors.New("rooms: room not found")

	// ErrRoomExists is returned by Registry.Create for a key that is already in
	// use. Callers are expected to pass freshly generated keys only.
	ErrRoomExists = errors.New("rooms: room already exists")

	// ErrAlreadyInRoom is returned when a connection that is already a
	// participant of a room tries to create or join a room.
	ErrAlreadyInRoom = errors.New("rooms: connection already in a room")
)
