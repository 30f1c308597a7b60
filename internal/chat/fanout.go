package chat

import "time"

// Server-to-client event names.
const (
	EventRoomJoined        = "room-joined"
	EventRoomLeft          = "room-left"
	EventUserJoinedRoom    = "user-joined-room"
	EventUserLeftRoom      = "user-left-room"
	EventUserTyping        = "user-typing"
	EventUserStopTyping    = "user-stop-typing"
	EventNewRoomMessage    = "new-room-message"
	EventNewPrivateMessage = "new-private-message"
	EventMessageDeleted    = "message-deleted"
	EventReactionAdded     = "reaction-added"
	EventReactionRemoved   = "reaction-removed"
	EventMessageRead       = "message-read"
	EventUserOnline        = "user-online"
	EventUserOffline       = "user-offline"
)

// Audience selects live connections for a delivery. Exactly one of Everyone,
// RoomID, UserIDs or SessionID is used; Except names a session to skip.
type Audience struct {
	Everyone  bool
	RoomID    string
	UserIDs   []string
	SessionID string
	Except    string
}

// ToEveryone selects every live connection.
func ToEveryone() Audience { return Audience{Everyone: true} }

// ToRoom selects the connections subscribed to roomID.
func ToRoom(roomID string) Audience { return Audience{RoomID: roomID} }

// ToUsers selects every connection bound to one of userIDs.
func ToUsers(userIDs ...string) Audience { return Audience{UserIDs: userIDs} }

// ToSession selects a single connection.
func ToSession(sessionID string) Audience { return Audience{SessionID: sessionID} }

// Excluding returns a copy of a that skips sessionID.
func (a Audience) Excluding(sessionID string) Audience {
	a.Except = sessionID
	return a
}

// Event is a named payload delivered to clients.
type Event struct {
	Name string
	Data any
}

// Fanout delivers events to live connections. Delivery is fire-and-forget:
// nothing is acknowledged or retried, and an unreachable connection is skipped.
type Fanout interface {
	Subscribe(sessionID, roomID string)
	Unsubscribe(sessionID, roomID string)
	Publish(audience Audience, event Event)
}

// PresenceEvent announces an identity going online or offline.
type PresenceEvent struct {
	UserID string `json:"userId"`
}

// JoinResult is sent to a connection that joined a room.
type JoinResult struct {
	Room        *Room      `json:"room"`
	Messages    []*Message `json:"messages"`
	OnlineUsers []*User    `json:"onlineUsers"`
}

// LeaveResult is sent to a connection that left a room.
type LeaveResult struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// MemberEvent announces a membership change to the rest of a room.
type MemberEvent struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	RoomID    string    `json:"roomId"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingEvent carries a typing or stop-typing signal.
type TypingEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

// MessageDeletedEvent announces a soft delete.
type MessageDeletedEvent struct {
	MessageID string `json:"messageId"`
}

// ReactionEvent announces a reaction toggle. Username is set on additions.
type ReactionEvent struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	Emoji     string `json:"emoji"`
}

// MessageReadEvent announces a new reader and the recomputed aggregate.
type MessageReadEvent struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AllRead   bool   `json:"allRead"`
}
