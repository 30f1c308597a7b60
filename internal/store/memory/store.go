// Package memory provides an in-process chat.Store guarded by a single
// RWMutex. It is the default backend for a single server instance and the
// store used by the engine's tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// Store keeps rooms, users and messages in maps. Every method returns copies so
// callers never share mutable state with the store.
type Store struct {
	mu sync.RWMutex

	rooms      map[string]*chat.Room
	roomNames  map[string]string
	globalRoom string

	users map[string]*chat.User

	messages     map[string]*chat.Message
	roomMessages map[string][]string
	conversation map[string][]string
}

var _ chat.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		rooms:        make(map[string]*chat.Room),
		roomNames:    make(map[string]string),
		users:        make(map[string]*chat.User),
		messages:     make(map[string]*chat.Message),
		roomMessages: make(map[string][]string),
		conversation: make(map[string][]string),
	}
}

func (s *Store) CreateRoom(_ context.Context, room *chat.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room.IsGlobal && s.globalRoom != "" {
		return chat.ErrGlobalRoomExists
	}
	key := strings.ToLower(room.Name)
	if _, taken := s.roomNames[key]; taken {
		return chat.ErrRoomNameTaken
	}
	stored := cloneRoom(room)
	if stored.Members == nil {
		stored.Members = []string{}
	}
	s.rooms[room.ID] = stored
	s.roomNames[key] = room.ID
	if room.IsGlobal {
		s.globalRoom = room.ID
	}
	return nil
}

func (s *Store) Room(_ context.Context, roomID string) (*chat.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, chat.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (s *Store) GlobalRoom(ctx context.Context) (*chat.Room, error) {
	s.mu.RLock()
	id := s.globalRoom
	s.mu.RUnlock()
	if id == "" {
		return nil, chat.ErrRoomNotFound
	}
	return s.Room(ctx, id)
}

func (s *Store) Rooms(_ context.Context) ([]*chat.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*chat.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, cloneRoom(room))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *Store) AddMember(_ context.Context, roomID, userID string) (*chat.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, chat.ErrRoomNotFound
	}
	if !room.HasMember(userID) {
		room.Members = append(room.Members, userID)
	}
	return cloneRoom(room), nil
}

func (s *Store) RemoveMember(_ context.Context, roomID, userID string) (*chat.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, chat.ErrRoomNotFound
	}
	members := room.Members[:0]
	for _, m := range room.Members {
		if m != userID {
			members = append(members, m)
		}
	}
	room.Members = members
	return cloneRoom(room), nil
}

func (s *Store) TouchRoom(_ context.Context, roomID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return chat.ErrRoomNotFound
	}
	room.MessageCount++
	if at.After(room.LastMessageAt) {
		room.LastMessageAt = at
	}
	return nil
}

func (s *Store) SaveUser(_ context.Context, identity chat.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, ok := s.users[identity.ID]; ok {
		user.DisplayName = identity.DisplayName
		return nil
	}
	s.users[identity.ID] = &chat.User{ID: identity.ID, DisplayName: identity.DisplayName}
	return nil
}

func (s *Store) User(_ context.Context, userID string) (*chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, chat.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

func (s *Store) SetPresence(_ context.Context, userID string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return chat.ErrUserNotFound
	}
	user.Online = online
	user.LastSeen = at
	return nil
}

func (s *Store) OnlineUsers(_ context.Context, userIDs []string) ([]*chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*chat.User{}
	add := func(user *chat.User) {
		if user != nil && user.Online {
			u := *user
			out = append(out, &u)
		}
	}
	if userIDs == nil {
		for _, user := range s.users {
			add(user)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	}
	for _, id := range userIDs {
		add(s.users[id])
	}
	return out, nil
}

func (s *Store) InsertMessage(_ context.Context, msg *chat.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ID] = cloneMessage(msg)
	if msg.IsPrivate {
		key := conversationKey(msg.SenderID, msg.RecipientID)
		s.conversation[key] = append(s.conversation[key], msg.ID)
	} else {
		s.roomMessages[msg.RoomID] = append(s.roomMessages[msg.RoomID], msg.ID)
	}
	return nil
}

func (s *Store) Message(_ context.Context, messageID string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, chat.ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

func (s *Store) RoomMessages(_ context.Context, roomID string, offset, limit int) ([]*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(s.roomMessages[roomID], offset, limit), nil
}

func (s *Store) PrivateMessages(_ context.Context, userA, userB string, offset, limit int) ([]*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(s.conversation[conversationKey(userA, userB)], offset, limit), nil
}

func (s *Store) SoftDeleteMessage(_ context.Context, messageID string, at time.Time) (*chat.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, false, chat.ErrMessageNotFound
	}
	if msg.Deleted() {
		return cloneMessage(msg), false, nil
	}
	deletedAt := at
	msg.DeletedAt = &deletedAt
	msg.Content = chat.DeletedPlaceholder
	return cloneMessage(msg), true, nil
}

func (s *Store) ToggleReaction(_ context.Context, messageID string, reaction chat.Reaction) (*chat.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, false, chat.ErrMessageNotFound
	}
	for i, existing := range msg.Reactions {
		if existing == reaction {
			msg.Reactions = append(msg.Reactions[:i], msg.Reactions[i+1:]...)
			return cloneMessage(msg), false, nil
		}
	}
	msg.Reactions = append(msg.Reactions, reaction)
	return cloneMessage(msg), true, nil
}

func (s *Store) AddReader(_ context.Context, messageID, userID string) (*chat.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, false, chat.ErrMessageNotFound
	}
	if msg.HasReader(userID) {
		return cloneMessage(msg), false, nil
	}
	msg.ReadBy = append(msg.ReadBy, userID)
	return cloneMessage(msg), true, nil
}

func (s *Store) SetRead(_ context.Context, messageID string, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return chat.ErrMessageNotFound
	}
	msg.Read = read
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// newestFirst walks ids backwards. Caller holds s.mu.
func (s *Store) newestFirst(ids []string, offset, limit int) []*chat.Message {
	out := []*chat.Message{}
	if offset < 0 {
		offset = 0
	}
	for i := len(ids) - 1 - offset; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if msg, ok := s.messages[ids[i]]; ok {
			out = append(out, cloneMessage(msg))
		}
	}
	return out
}

func conversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

func cloneRoom(r *chat.Room) *chat.Room {
	c := *r
	c.Members = append([]string(nil), r.Members...)
	if c.Members == nil {
		c.Members = []string{}
	}
	return &c
}

func cloneMessage(m *chat.Message) *chat.Message {
	c := *m
	c.ReadBy = append([]string{}, m.ReadBy...)
	c.Reactions = append([]chat.Reaction{}, m.Reactions...)
	if m.DeletedAt != nil {
		at := *m.DeletedAt
		c.DeletedAt = &at
	}
	return &c
}
