package chat

import (
	"context"
	"time"
)

// Store is the shared state every connection reads and mutates concurrently.
//
// Mutations are single atomic updates against current state (set add, set
// remove, toggle, conditional set); callers never read, modify and write back.
// Lookups of absent records return ErrRoomNotFound, ErrMessageNotFound or
// ErrUserNotFound.
type Store interface {
	// CreateRoom inserts room. It fails with ErrRoomNameTaken when the name is
	// in use and ErrGlobalRoomExists when room is global and one already exists.
	CreateRoom(ctx context.Context, room *Room) error
	Room(ctx context.Context, roomID string) (*Room, error)
	GlobalRoom(ctx context.Context) (*Room, error)
	Rooms(ctx context.Context) ([]*Room, error)
	// AddMember and RemoveMember are idempotent and return the updated room.
	AddMember(ctx context.Context, roomID, userID string) (*Room, error)
	RemoveMember(ctx context.Context, roomID, userID string) (*Room, error)
	// TouchRoom increments the room's message counter and sets lastMessageAt.
	TouchRoom(ctx context.Context, roomID string, at time.Time) error

	// SaveUser records identity, keeping any existing presence state.
	SaveUser(ctx context.Context, identity Identity) error
	User(ctx context.Context, userID string) (*User, error)
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) error
	// OnlineUsers returns the online users among userIDs, or all online users
	// when userIDs is nil.
	OnlineUsers(ctx context.Context, userIDs []string) ([]*User, error)

	InsertMessage(ctx context.Context, msg *Message) error
	Message(ctx context.Context, messageID string) (*Message, error)
	// RoomMessages and PrivateMessages return newest first.
	RoomMessages(ctx context.Context, roomID string, offset, limit int) ([]*Message, error)
	PrivateMessages(ctx context.Context, userA, userB string, offset, limit int) ([]*Message, error)
	// SoftDeleteMessage redacts the message unless already deleted. The bool
	// reports whether this call performed the transition.
	SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) (*Message, bool, error)
	// ToggleReaction removes the pair if present, adds it otherwise. The bool
	// reports whether it was added.
	ToggleReaction(ctx context.Context, messageID string, reaction Reaction) (*Message, bool, error)
	// AddReader appends userID to readBy if absent. The bool reports whether it
	// was appended.
	AddReader(ctx context.Context, messageID, userID string) (*Message, bool, error)
	SetRead(ctx context.Context, messageID string, read bool) error

	Close() error
}
