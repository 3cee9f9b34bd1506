package metrics

import "sync"

// Event names. Names are intentionally simple; a follow-up metrics task can
// standardize and export these via a richer backend.
const (
	Connections            = "connections"
	ConnectionsRejected    = "connections_rejected_bad_room_id"
	RoomsCreated           = "rooms_created"
	RoomsEvicted           = "rooms_evicted"
	ParticipantsJoined     = "participants_joined"
	ParticipantsLeft       = "participants_left"
	JoinRejectedDuplicate  = "join_rejected_duplicate_name"
	JoinRejectedRoomFull   = "join_rejected_room_full"
	JoinRejectedTooManyRms = "join_rejected_too_many_rooms"
	ChatMessagesRelayed    = "chat_messages_relayed"
	SignalsForwarded       = "signals_forwarded"
	SignalTargetMissing    = "signal_target_missing"
	ProtocolErrors         = "protocol_errors"
	RateLimited            = "rate_limited"
	BroadcastSendFailures  = "broadcast_send_failures"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The production relay is expected to plug into a real metrics backend; this
// type exists to keep relay logic testable while still exposing counters for
// scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
