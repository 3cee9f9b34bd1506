package relay

import (
	"errors"
	"sync"

	"github.com/roomlink/signal-relay/internal/metrics"
)

// Registry is the process-wide room-id → Room mapping.
//
// The registry mutex guards only the map itself; every room has its own
// synchronization domain, so traffic in one room never blocks another. Rooms
// are created lazily on the first successful join and evicted the instant
// their participant count reaches zero.
type Registry struct {
	metrics *metrics.Metrics

	// Capacity bounds; <= 0 means unlimited.
	maxRooms               int
	maxParticipantsPerRoom int

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(maxRooms, maxParticipantsPerRoom int, m *metrics.Metrics) *Registry {
	return &Registry{
		metrics:                m,
		maxRooms:               maxRooms,
		maxParticipantsPerRoom: maxParticipantsPerRoom,
		rooms:                  make(map[string]*Room),
	}
}

// Join binds (name, conn) into the room identified by id, creating the room
// when absent. It retries when the join races with the eviction of a room
// that was concurrently emptied; the retry observes a fresh room.
func (g *Registry) Join(id, name string, conn Conn) (*Room, error) {
	for attempt := 0; attempt < 3; attempt++ {
		g.mu.Lock()
		room, ok := g.rooms[id]
		if !ok {
			if g.maxRooms > 0 && len(g.rooms) >= g.maxRooms {
				g.mu.Unlock()
				return nil, ErrTooManyRooms
			}
			room = newRoom(id, g.metrics)
			g.rooms[id] = room
			g.metrics.Inc(metrics.RoomsCreated)
		}
		g.mu.Unlock()

		err := room.Join(name, conn, g.maxParticipantsPerRoom)
		if errors.Is(err, ErrRoomClosed) {
			// Lost a race with the last-participant-leaves path. Drop the
			// stale mapping so the retry observes a fresh room.
			g.Evict(id, room)
			continue
		}
		if err != nil {
			return nil, err
		}
		return room, nil
	}
	return nil, ErrRoomClosed
}

// Evict removes the room from the registry, but only while id still maps to
// this exact room. The id is threaded in explicitly by the caller so a stale
// cleanup can never remove a fresh room reusing the same identifier.
func (g *Registry) Evict(id string, room *Room) {
	g.mu.Lock()
	if g.rooms[id] == room {
		delete(g.rooms, id)
		g.metrics.Inc(metrics.RoomsEvicted)
	}
	g.mu.Unlock()
}

// Lookup returns the room for id, or nil when absent.
func (g *Registry) Lookup(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[id]
}

// Len returns the number of active rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
