// Package relay implements the room-scoped signaling relay: it tracks which
// participants belong to which room, fans chat messages out to room members,
// and forwards WebRTC negotiation payloads between named peers without
// inspecting them.
//
// The relay is transport-bound to WebSocket (GET /chat/<roomId>) and keeps all
// room state in process memory. A room exists exactly as long as it has at
// least one participant.
package relay
