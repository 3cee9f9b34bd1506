package relay

import "errors"

var (
	ErrDuplicateName = errors.New("name already present in room")
	// ErrRoomClosed is returned when an operation races with the eviction of
	// an emptied room. Callers joining through the Registry retry and get a
	// fresh room under the same id.
	ErrRoomClosed     = errors.New("room closed")
	ErrRoomFull       = errors.New("room full")
	ErrTooManyRooms   = errors.New("too many rooms")
	ErrNotParticipant = errors.New("sender is not a room participant")
)
