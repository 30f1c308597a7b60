package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// JoinRoom adds the session's identity to the room, subscribes the connection
// to the room's broadcast group and sends it a snapshot of recent messages and
// online members. The rest of the room is told about the new member.
func (e *Engine) JoinRoom(ctx context.Context, s *Session, roomID string) (*JoinResult, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrRoomIDRequired
	}
	id := s.Identity()

	room, err := e.store.AddMember(ctx, roomID, id.ID)
	if err != nil {
		return nil, e.storeErr("add member", err)
	}
	// Subscribe before reading the snapshot so no message falls between the
	// two. If the snapshot fails the subscription is dropped again; the
	// membership stays, and a retried join is idempotent.
	e.fanout.Subscribe(s.ID(), roomID)

	messages, online, err := e.joinSnapshot(ctx, room)
	if err != nil {
		e.fanout.Unsubscribe(s.ID(), roomID)
		return nil, err
	}
	e.refreshReadState(ctx, room, messages)

	result := &JoinResult{Room: room, Messages: messages, OnlineUsers: online}
	e.fanout.Publish(ToSession(s.ID()), Event{Name: EventRoomJoined, Data: result})
	e.fanout.Publish(ToRoom(roomID).Excluding(s.ID()), Event{
		Name: EventUserJoinedRoom,
		Data: MemberEvent{UserID: id.ID, Username: id.DisplayName, RoomID: roomID, Timestamp: e.now()},
	})

	e.log.Debug("joined room",
		zap.String("user_id", id.ID),
		zap.String("room_id", roomID),
		zap.Int("members", len(room.Members)),
	)
	return result, nil
}

// LeaveRoom removes the session's identity from the room and drops the
// connection's subscription.
func (e *Engine) LeaveRoom(ctx context.Context, s *Session, roomID string) (*LeaveResult, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrRoomIDRequired
	}
	id := s.Identity()

	room, err := e.store.RemoveMember(ctx, roomID, id.ID)
	if err != nil {
		return nil, e.storeErr("remove member", err)
	}
	e.fanout.Unsubscribe(s.ID(), roomID)

	if messages, err := e.recentMessages(ctx, room); err == nil {
		e.refreshReadState(ctx, room, messages)
	}

	result := &LeaveResult{RoomID: roomID, Message: "Successfully left room"}
	e.fanout.Publish(ToSession(s.ID()), Event{Name: EventRoomLeft, Data: result})
	e.fanout.Publish(ToRoom(roomID).Excluding(s.ID()), Event{
		Name: EventUserLeftRoom,
		Data: MemberEvent{UserID: id.ID, Username: id.DisplayName, RoomID: roomID, Timestamp: e.now()},
	})
	return result, nil
}

// CreateRoom creates a non-global room. The creator is always a member.
func (e *Engine) CreateRoom(ctx context.Context, creator Identity, name string, memberIDs []string) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrRoomNameRequired
	}
	members := distinct(append([]string{creator.ID}, memberIDs...))
	members = removeEmpty(members)

	now := e.now()
	room := &Room{
		ID:            e.newID(),
		Name:          name,
		Members:       members,
		CreatedBy:     creator.ID,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if err := e.store.CreateRoom(ctx, room); err != nil {
		return nil, e.storeErr("create room", err)
	}
	e.log.Info("room created", zap.String("room_id", room.ID), zap.String("name", name), zap.String("created_by", creator.ID))
	return room, nil
}

// EnsureGlobalRoom returns the global room, creating it with name if absent.
func (e *Engine) EnsureGlobalRoom(ctx context.Context, name string) (*Room, error) {
	room, err := e.store.GlobalRoom(ctx)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, e.storeErr("global room", err)
	}

	now := e.now()
	room = &Room{
		ID:            e.newID(),
		Name:          name,
		IsGlobal:      true,
		Members:       []string{},
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if err := e.store.CreateRoom(ctx, room); err != nil {
		if errors.Is(err, ErrGlobalRoomExists) {
			existing, getErr := e.store.GlobalRoom(ctx)
			return existing, e.storeErr("global room", getErr)
		}
		return nil, e.storeErr("create global room", err)
	}
	e.log.Info("global room created", zap.String("room_id", room.ID), zap.String("name", name))
	return room, nil
}

func (e *Engine) joinSnapshot(ctx context.Context, room *Room) ([]*Message, []*User, error) {
	messages, err := e.recentMessages(ctx, room)
	if err != nil {
		return nil, nil, err
	}
	online, err := e.store.OnlineUsers(ctx, room.Members)
	if err != nil {
		return nil, nil, e.storeErr("online members", err)
	}
	return messages, online, nil
}

// recentMessages returns the latest messages of room, oldest first, with the
// read aggregate computed against the room's current members.
func (e *Engine) recentMessages(ctx context.Context, room *Room) ([]*Message, error) {
	newest, err := e.store.RoomMessages(ctx, room.ID, 0, e.historyLimit)
	if err != nil {
		return nil, e.storeErr("recent messages", err)
	}
	out := make([]*Message, len(newest))
	for i, msg := range newest {
		out[len(newest)-1-i] = msg
	}
	return out, nil
}

// refreshReadState recomputes the read aggregate of messages against the
// room's current membership and persists the ones that changed. A membership
// change alone can flip a message either way.
func (e *Engine) refreshReadState(ctx context.Context, room *Room, messages []*Message) {
	for _, msg := range messages {
		read := ReadAggregate(msg, room.Members)
		if read == msg.Read {
			continue
		}
		if err := e.store.SetRead(ctx, msg.ID, read); err != nil {
			e.log.Warn("refresh read state", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		msg.Read = read
	}
}

func removeEmpty(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	return out
}
