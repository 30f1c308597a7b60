package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// SendCommand is a validated send-message request.
type SendCommand struct {
	Content     string
	RoomID      string
	IsPrivate   bool
	RecipientID string
}

// ReactionResult reports the outcome of a reaction toggle.
type ReactionResult struct {
	Message *Message
	Added   bool
}

// ReadResult reports the outcome of a mark-read.
type ReadResult struct {
	Message     *Message
	AllRead     bool
	AlreadyRead bool
}

// SendMessage persists a new message from the session's identity and delivers
// it to the room's subscribers or to both private parties.
func (e *Engine) SendMessage(ctx context.Context, s *Session, cmd SendCommand) (*Message, error) {
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	id := s.Identity()

	msg := &Message{
		ID:                e.newID(),
		SenderID:          id.ID,
		SenderDisplayName: id.DisplayName,
		Content:           content,
		CreatedAt:         e.now(),
		ReadBy:            []string{id.ID},
		Reactions:         []Reaction{},
	}

	if cmd.IsPrivate {
		recipientID := strings.TrimSpace(cmd.RecipientID)
		if recipientID == "" {
			return nil, ErrRecipientRequired
		}
		if _, err := e.store.User(ctx, recipientID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrRecipientNotFound
			}
			return nil, e.storeErr("lookup recipient", err)
		}
		msg.IsPrivate = true
		msg.RecipientID = recipientID
	} else {
		roomID := strings.TrimSpace(cmd.RoomID)
		if roomID == "" {
			return nil, ErrRoomIDRequired
		}
		room, err := e.store.Room(ctx, roomID)
		if err != nil {
			return nil, e.storeErr("lookup room", err)
		}
		if !room.CanPost(id.ID) {
			return nil, ErrNotMember
		}
		msg.RoomID = room.ID
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.InsertMessage(ctx, msg); err != nil {
		return nil, e.storeErr("insert message", err)
	}

	name := EventNewRoomMessage
	if msg.IsPrivate {
		name = EventNewPrivateMessage
	} else if err := e.store.TouchRoom(ctx, msg.RoomID, msg.CreatedAt); err != nil {
		e.log.Warn("update room counters", zap.String("room_id", msg.RoomID), zap.Error(err))
	}

	e.fanout.Publish(msg.Audience(), Event{Name: name, Data: msg})
	e.log.Debug("message sent",
		zap.String("message_id", msg.ID),
		zap.String("sender_id", msg.SenderID),
		zap.Bool("private", msg.IsPrivate),
	)
	return msg, nil
}

// DeleteMessage soft-deletes a message authored by the session's identity.
// Deleting an already deleted message succeeds without a second broadcast.
func (e *Engine) DeleteMessage(ctx context.Context, s *Session, messageID string) (*Message, error) {
	if messageID == "" {
		return nil, ErrMessageIDRequired
	}
	msg, err := e.store.Message(ctx, messageID)
	if err != nil {
		return nil, e.storeErr("lookup message", err)
	}
	if msg.SenderID != s.UserID() {
		return nil, ErrNotAuthor
	}

	deleted, transitioned, err := e.store.SoftDeleteMessage(ctx, messageID, e.now())
	if err != nil {
		return nil, e.storeErr("delete message", err)
	}
	if transitioned {
		e.fanout.Publish(deleted.Audience(), Event{
			Name: EventMessageDeleted,
			Data: MessageDeletedEvent{MessageID: messageID},
		})
	}
	return deleted, nil
}

// React toggles the session identity's emoji reaction on a message.
func (e *Engine) React(ctx context.Context, s *Session, messageID, emoji string) (*ReactionResult, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, ErrEmptyEmoji
	}
	if messageID == "" {
		return nil, ErrMessageIDRequired
	}
	id := s.Identity()

	msg, added, err := e.store.ToggleReaction(ctx, messageID, Reaction{UserID: id.ID, Emoji: emoji})
	if err != nil {
		return nil, e.storeErr("toggle reaction", err)
	}

	event := Event{
		Name: EventReactionRemoved,
		Data: ReactionEvent{MessageID: messageID, UserID: id.ID, Emoji: emoji},
	}
	if added {
		event = Event{
			Name: EventReactionAdded,
			Data: ReactionEvent{MessageID: messageID, UserID: id.ID, Username: id.DisplayName, Emoji: emoji},
		}
	}
	e.fanout.Publish(msg.Audience(), event)
	return &ReactionResult{Message: msg, Added: added}, nil
}

// MarkRead adds the session's identity to the message's readers and
// recomputes the read aggregate against the current audience. A repeat call
// reports AlreadyRead and broadcasts nothing. Only the two parties of a
// private message may mark it read.
func (e *Engine) MarkRead(ctx context.Context, s *Session, messageID string) (*ReadResult, error) {
	if messageID == "" {
		return nil, ErrMessageIDRequired
	}
	id := s.Identity()

	existing, err := e.store.Message(ctx, messageID)
	if err != nil {
		return nil, e.storeErr("lookup message", err)
	}
	if existing.IsPrivate && !existing.IsParty(id.ID) {
		return nil, ErrNotParticipant
	}

	msg, added, err := e.store.AddReader(ctx, messageID, id.ID)
	if err != nil {
		return nil, e.storeErr("add reader", err)
	}

	// The stored flag may predate a membership change, so it is never
	// reported without being recomputed.
	allRead, err := e.syncRead(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !added {
		return &ReadResult{Message: msg, AllRead: allRead, AlreadyRead: true}, nil
	}

	e.fanout.Publish(msg.Audience(), Event{
		Name: EventMessageRead,
		Data: MessageReadEvent{MessageID: messageID, UserID: id.ID, Username: id.DisplayName, AllRead: allRead},
	})
	return &ReadResult{Message: msg, AllRead: allRead}, nil
}

// syncRead recomputes msg's read aggregate against live membership and
// persists it when the stored flag disagrees.
func (e *Engine) syncRead(ctx context.Context, msg *Message) (bool, error) {
	allRead, err := e.readAggregate(ctx, msg)
	if err != nil {
		return false, err
	}
	if allRead != msg.Read {
		if err := e.store.SetRead(ctx, msg.ID, allRead); err != nil {
			return false, e.storeErr("set read", err)
		}
		msg.Read = allRead
	}
	return allRead, nil
}

// readAggregate fetches the room's live membership for room messages.
func (e *Engine) readAggregate(ctx context.Context, msg *Message) (bool, error) {
	if msg.IsPrivate {
		return ReadAggregate(msg, nil), nil
	}
	room, err := e.store.Room(ctx, msg.RoomID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, e.storeErr("lookup room", err)
	}
	return ReadAggregate(msg, room.Members), nil
}
