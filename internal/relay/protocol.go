package relay

import "encoding/json"

// Client-to-server message types. The dispatch over these is a closed switch
// with an explicit default arm; anything else is answered with an error event.
type messageType string

const (
	typeJoin         messageType = "join"
	typeMessage      messageType = "message"
	typeVideoStarted messageType = "videoStarted"
	typeVideoStopped messageType = "videoStopped"
	typeOffer        messageType = "offer"
	typeAnswer       messageType = "answer"
	typeICECandidate messageType = "ice-candidate"
	typeLeave        messageType = "leave"
)

// Server-to-client event types.
const (
	eventChatStatus   = "chatStatus"
	eventMessage      = "message"
	eventUserJoined   = "userJoined"
	eventUserLeft     = "userLeft"
	eventVideoStarted = "videoStarted"
	eventVideoStopped = "videoStopped"
	eventError        = "error"
)

// Error event texts surfaced to the offending sender.
const (
	errTextInvalidFormat = "Invalid message format"
	errTextUnknownType   = "Unknown message type"
	errTextDuplicateUser = "User already exists in chat"
	errTextAlreadyJoined = "Connection already joined a chat"
	errTextMissingUser   = "Missing user name"
	errTextNotInChat     = "Sender is not a participant of this chat"
	errTextRoomFull      = "Chat is full"
	errTextTooManyRooms  = "Too many active chats"
)

// clientMessage is the routing envelope of every inbound frame. Negotiation
// payloads (offer/answer/candidate blobs) are deliberately absent: the relay
// reads only type/user/from/to/message and forwards the raw frame verbatim,
// so the blobs reach the target byte-for-byte uninspected.
type clientMessage struct {
	Type messageType `json:"type"`
	User string      `json:"user"`
	From string      `json:"from"`
	To   string      `json:"to"`
	Text string      `json:"message"`
}

// Message is one chat history entry. Timestamps are server-assigned
// milliseconds since the Unix epoch; they define the canonical chat order.
type Message struct {
	From      string `json:"from"`
	Text      string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type chatStatusEvent struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
	Users    []string  `json:"users"`
}

type chatMessageEvent struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	Text      string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type userEvent struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// encodeEvent marshals a server event. The event structs contain only
// marshalable fields, so errors are not reachable.
func encodeEvent(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return payload
}
