package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roomlink/signal-relay/internal/metrics"
)

func TestRegistry_LazyCreateAndReuse(t *testing.T) {
	reg := NewRegistry(0, 0, metrics.New())

	require.Nil(t, reg.Lookup("abcdefghij"))

	room, err := reg.Join("abcdefghij", "alice", &fakeConn{})
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	// A second participant lands in the same room, not a new one.
	room2, err := reg.Join("abcdefghij", "bob", &fakeConn{})
	require.NoError(t, err)
	require.Same(t, room, room2)
	require.Equal(t, 1, reg.Len())
}

func TestRegistry_RoomsAreIsolated(t *testing.T) {
	reg := NewRegistry(0, 0, metrics.New())

	roomA, err := reg.Join("aaaaaaaaaa", "alice", &fakeConn{})
	require.NoError(t, err)
	roomB, err := reg.Join("bbbbbbbbbb", "alice", &fakeConn{})
	require.NoError(t, err)

	require.NotSame(t, roomA, roomB)
	require.Equal(t, 2, reg.Len())

	// The same participant name is legal across rooms.
	require.True(t, roomA.Has("alice"))
	require.True(t, roomB.Has("alice"))
}

func TestRegistry_EvictionThenFreshRoom(t *testing.T) {
	m := metrics.New()
	reg := NewRegistry(0, 0, m)

	alice := &fakeConn{}
	room, err := reg.Join("abcdefghij", "alice", alice)
	require.NoError(t, err)

	_, err = room.Publish("alice", "hello", 1)
	require.NoError(t, err)

	_, empty := room.Disconnect("alice", alice)
	require.True(t, empty)
	reg.Evict(room.ID(), room)
	require.Equal(t, 0, reg.Len())

	// Rejoining the same id produces a fresh room with no history.
	fresh, err := reg.Join("abcdefghij", "alice", &fakeConn{})
	require.NoError(t, err)
	require.NotSame(t, room, fresh)
	require.Empty(t, fresh.History())

	require.Equal(t, uint64(2), m.Get(metrics.RoomsCreated))
	require.Equal(t, uint64(1), m.Get(metrics.RoomsEvicted))
}

func TestRegistry_EvictIgnoresReplacedRoom(t *testing.T) {
	reg := NewRegistry(0, 0, metrics.New())

	alice := &fakeConn{}
	stale, err := reg.Join("abcdefghij", "alice", alice)
	require.NoError(t, err)

	_, empty := stale.Disconnect("alice", alice)
	require.True(t, empty)
	reg.Evict(stale.ID(), stale)

	fresh, err := reg.Join("abcdefghij", "bob", &fakeConn{})
	require.NoError(t, err)

	// A late eviction for the stale room must not remove its successor.
	reg.Evict("abcdefghij", stale)
	require.Same(t, fresh, reg.Lookup("abcdefghij"))
}

func TestRegistry_JoinRetriesPastClosedRoom(t *testing.T) {
	reg := NewRegistry(0, 0, metrics.New())

	alice := &fakeConn{}
	room, err := reg.Join("abcdefghij", "alice", alice)
	require.NoError(t, err)

	// Close the room but leave the stale mapping in place, as if the joiner
	// ran between the last disconnect and its eviction.
	_, empty := room.Disconnect("alice", alice)
	require.True(t, empty)

	fresh, err := reg.Join("abcdefghij", "bob", &fakeConn{})
	require.NoError(t, err)
	require.NotSame(t, room, fresh)
	require.True(t, fresh.Has("bob"))
}

func TestRegistry_MaxRooms(t *testing.T) {
	m := metrics.New()
	reg := NewRegistry(2, 0, m)

	_, err := reg.Join("aaaaaaaaaa", "alice", &fakeConn{})
	require.NoError(t, err)
	_, err = reg.Join("bbbbbbbbbb", "alice", &fakeConn{})
	require.NoError(t, err)

	_, err = reg.Join("cccccccccc", "alice", &fakeConn{})
	require.ErrorIs(t, err, ErrTooManyRooms)

	// Existing rooms still accept joins at the cap.
	_, err = reg.Join("aaaaaaaaaa", "bob", &fakeConn{})
	require.NoError(t, err)
}

func TestRegistry_MaxParticipantsPerRoom(t *testing.T) {
	reg := NewRegistry(0, 1, metrics.New())

	_, err := reg.Join("abcdefghij", "alice", &fakeConn{})
	require.NoError(t, err)
	_, err = reg.Join("abcdefghij", "bob", &fakeConn{})
	require.ErrorIs(t, err, ErrRoomFull)
}

func TestRegistry_ConcurrentJoinLeaveChurn(t *testing.T) {
	reg := NewRegistry(0, 0, metrics.New())

	const workers = 8
	const iterations = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", w)
			for i := 0; i < iterations; i++ {
				conn := &fakeConn{}
				room, err := reg.Join("churn-room-id", name, conn)
				if err != nil {
					t.Errorf("join: %v", err)
					return
				}
				if _, empty := room.Disconnect(name, conn); empty {
					reg.Evict(room.ID(), room)
				}
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, 0, reg.Len())
}
