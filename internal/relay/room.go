package relay

import (
	"sync"

	"github.com/roomlink/signal-relay/internal/metrics"
)

// Conn is the connection handle a participant is bound to. Implementations
// must be safe for concurrent use; Send on a closed connection returns an
// error, which broadcast paths treat as a transient, self-correcting state
// (the connection's own close handler performs cleanup).
type Conn interface {
	Send(payload []byte) error
}

// Room is one isolated namespace of participants and chat history.
//
// Every mutation and every delivery happens under the room mutex, so history
// order, replay order, and delivery order all equal arrival order at the
// server. Rooms in different synchronization domains never block each other.
type Room struct {
	id      string
	metrics *metrics.Metrics

	mu sync.Mutex
	// closed is set the instant the last participant leaves; a closed room is
	// never revived, a concurrent join retries against the registry instead.
	closed  bool
	conns   map[string]Conn
	order   []string
	history []Message
}

func newRoom(id string, m *metrics.Metrics) *Room {
	return &Room{
		id:      id,
		metrics: m,
		conns:   make(map[string]Conn),
	}
}

func (r *Room) ID() string { return r.id }

// Join registers name→conn, replies to the joiner with the full chat history
// and current participant list, and announces the join to everyone else.
// maxParticipants <= 0 means unlimited.
func (r *Room) Join(name string, conn Conn, maxParticipants int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.conns[name]; ok {
		return ErrDuplicateName
	}
	if maxParticipants > 0 && len(r.conns) >= maxParticipants {
		return ErrRoomFull
	}

	r.conns[name] = conn
	r.order = append(r.order, name)

	history := make([]Message, len(r.history))
	copy(history, r.history)
	users := make([]string, len(r.order))
	copy(users, r.order)

	r.sendLocked(conn, encodeEvent(chatStatusEvent{
		Type:     eventChatStatus,
		Messages: history,
		Users:    users,
	}))
	r.broadcastLocked(encodeEvent(userEvent{Type: eventUserJoined, User: name}), name)
	return nil
}

// Publish appends a chat message from a registered participant and delivers
// it to every participant including the sender. Append and fan-out share one
// critical section so no two messages are observed in different orders.
func (r *Room) Publish(from, text string, timestamp int64) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Message{}, ErrRoomClosed
	}
	if _, ok := r.conns[from]; !ok {
		return Message{}, ErrNotParticipant
	}

	msg := Message{From: from, Text: text, Timestamp: timestamp}
	r.history = append(r.history, msg)
	r.broadcastLocked(encodeEvent(chatMessageEvent{
		Type:      eventMessage,
		From:      msg.From,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	}), "")
	return msg, nil
}

// Broadcast delivers an encoded event to every participant except exclude
// (empty = nobody excluded).
func (r *Room) Broadcast(payload []byte, exclude string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(payload, exclude)
}

// Signal forwards a raw frame to exactly the named participant. A missing
// target is a silent no-op: offer/answer/candidate exchanges are best-effort
// and self-heal via renegotiation.
func (r *Room) Signal(to string, raw []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[to]
	if !ok {
		return false
	}
	r.sendLocked(conn, raw)
	return true
}

// Disconnect removes name from the room if, and only if, it is still bound to
// conn, and announces the departure. Duplicate leave/close events for the
// same participant are no-ops.
//
// The second result reports whether the removal emptied the room; the caller
// must then evict the room from its registry under the room's own id.
func (r *Room) Disconnect(name string, conn Conn) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[name] != conn {
		return false, false
	}

	delete(r.conns, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.broadcastLocked(encodeEvent(userEvent{Type: eventUserLeft, User: name}), name)

	if len(r.conns) == 0 {
		r.closed = true
		return true, true
	}
	return true, false
}

// Has reports whether name is currently registered.
func (r *Room) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[name]
	return ok
}

// Users returns the participant names in join order.
func (r *Room) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]string, len(r.order))
	copy(users, r.order)
	return users
}

// History returns a copy of the chat history.
func (r *Room) History() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := make([]Message, len(r.history))
	copy(history, r.history)
	return history
}

func (r *Room) broadcastLocked(payload []byte, exclude string) {
	for name, conn := range r.conns {
		if name == exclude {
			continue
		}
		r.sendLocked(conn, payload)
	}
}

// sendLocked delivers best-effort: a failed send means the connection is
// closing and its own disconnect handling will remove the participant.
func (r *Room) sendLocked(conn Conn, payload []byte) {
	if err := conn.Send(payload); err != nil {
		r.metrics.Inc(metrics.BroadcastSendFailures)
	}
}
