// Package rooms owns the in-memory room registry and the signaling logic that
// runs on top of it: room creation, join/leave/disconnect membership changes,
// and forwarding of opaque signaling payloads between connections.
//
// Nothing in this package touches sockets. Outbound delivery goes through the
// Transport interface, which the signaling package implements over WebSockets
// and tests implement with an in-memory recorder.
//
// Rooms are ephemeral. A room exists exactly as long as it has at least one
// participant; there is no idle eviction, so a room whose last participant's
// disconnect is never delivered by the transport stays allocated until the
// process exits.
package rooms
