package chat

import (
	"context"
	"strings"
)

// Page is a 1-based history page request.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps p to a valid page: number at least 1, size between 1 and
// MaxPageSize, DefaultHistoryLimit when unset.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	switch {
	case p.Size <= 0:
		p.Size = DefaultHistoryLimit
	case p.Size > MaxPageSize:
		p.Size = MaxPageSize
	}
	return p
}

// Offset returns the number of records before the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// Rooms lists every room.
func (e *Engine) Rooms(ctx context.Context) ([]*Room, error) {
	rooms, err := e.store.Rooms(ctx)
	return rooms, e.storeErr("list rooms", err)
}

// Room returns a single room.
func (e *Engine) Room(ctx context.Context, roomID string) (*Room, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrRoomIDRequired
	}
	room, err := e.store.Room(ctx, roomID)
	return room, e.storeErr("lookup room", err)
}

// RoomHistory returns a page of a room's messages, newest first. Only members
// may read a non-global room.
func (e *Engine) RoomHistory(ctx context.Context, viewerID, roomID string, page Page) ([]*Message, error) {
	room, err := e.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.CanPost(viewerID) {
		return nil, ErrNotMember
	}
	page = page.Normalize()
	messages, err := e.store.RoomMessages(ctx, room.ID, page.Offset(), page.Size)
	if err != nil {
		return nil, e.storeErr("room history", err)
	}
	e.refreshReadState(ctx, room, messages)
	return messages, nil
}

// PrivateHistory returns a page of the private conversation between viewerID
// and peerID, newest first.
func (e *Engine) PrivateHistory(ctx context.Context, viewerID, peerID string, page Page) ([]*Message, error) {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return nil, ErrRecipientRequired
	}
	page = page.Normalize()
	messages, err := e.store.PrivateMessages(ctx, viewerID, peerID, page.Offset(), page.Size)
	if err != nil {
		return nil, e.storeErr("private history", err)
	}
	// Failures are logged by syncRead; the page is still served.
	for _, msg := range messages {
		_, _ = e.syncRead(ctx, msg)
	}
	return messages, nil
}

// OnlineUsers lists every user currently marked online.
func (e *Engine) OnlineUsers(ctx context.Context) ([]*User, error) {
	users, err := e.store.OnlineUsers(ctx, nil)
	return users, e.storeErr("online users", err)
}

// User returns a single recorded user.
func (e *Engine) User(ctx context.Context, userID string) (*User, error) {
	user, err := e.store.User(ctx, strings.TrimSpace(userID))
	return user, e.storeErr("lookup user", err)
}
