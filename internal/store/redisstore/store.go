// Package redisstore implements chat.Store on Redis. Membership, readers and
// reactions are Redis sets; every conditional mutation runs as a Lua script
// so concurrent connections on any number of server processes never lose an
// update.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/chat"
)

const defaultPrefix = "relaychat:"

// Store is a chat.Store backed by a Redis client.
type Store struct {
	client redis.UniversalClient
	keys   keyspace
	log    *zap.Logger
}

var _ chat.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.keys.prefix = prefix }
}

// WithLogger sets the store's logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New wraps an existing client. The store owns the client and closes it.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		keys:   keyspace{prefix: defaultPrefix},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to addr and verifies the connection with PING.
func Open(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(client, opts...), nil
}

func (s *Store) CreateRoom(ctx context.Context, room *chat.Room) error {
	args := []any{
		room.ID,
		room.Name,
		strings.ToLower(room.Name),
		boolArg(room.IsGlobal),
		room.CreatedBy,
		formatTime(room.CreatedAt),
		formatTime(room.LastMessageAt),
		room.LastMessageAt.UnixMicro(),
	}
	for _, m := range room.Members {
		args = append(args, m)
	}
	keys := []string{
		s.keys.room(room.ID),
		s.keys.roomNames(),
		s.keys.global(),
		s.keys.rooms(),
		s.keys.members(room.ID),
	}

	res, err := createRoomScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("create room %s: %w", room.ID, err)
	}
	switch res {
	case -1:
		return chat.ErrRoomNameTaken
	case -2:
		return chat.ErrGlobalRoomExists
	}
	return nil
}

func (s *Store) Room(ctx context.Context, roomID string) (*chat.Room, error) {
	rooms, err := s.roomsByID(ctx, []string{roomID})
	if err != nil {
		return nil, err
	}
	if rooms[0] == nil {
		return nil, chat.ErrRoomNotFound
	}
	return rooms[0], nil
}

func (s *Store) GlobalRoom(ctx context.Context) (*chat.Room, error) {
	id, err := s.client.Get(ctx, s.keys.global()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, chat.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get global room: %w", err)
	}
	return s.Room(ctx, id)
}

func (s *Store) Rooms(ctx context.Context) ([]*chat.Room, error) {
	ids, err := s.client.SMembers(ctx, s.keys.rooms()).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if len(ids) == 0 {
		return []*chat.Room{}, nil
	}
	rooms, err := s.roomsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*chat.Room, 0, len(rooms))
	for _, room := range rooms {
		if room != nil {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *Store) AddMember(ctx context.Context, roomID, userID string) (*chat.Room, error) {
	return s.changeMembership(ctx, roomID, userID, true)
}

func (s *Store) RemoveMember(ctx context.Context, roomID, userID string) (*chat.Room, error) {
	return s.changeMembership(ctx, roomID, userID, false)
}

func (s *Store) changeMembership(ctx context.Context, roomID, userID string, add bool) (*chat.Room, error) {
	keys := []string{s.keys.room(roomID), s.keys.members(roomID)}
	res, err := membershipScript.Run(ctx, s.client, keys, userID, boolArg(add)).Int()
	if err != nil {
		return nil, fmt.Errorf("update members of %s: %w", roomID, err)
	}
	if res == -1 {
		return nil, chat.ErrRoomNotFound
	}
	return s.Room(ctx, roomID)
}

func (s *Store) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	res, err := touchRoomScript.Run(ctx, s.client, []string{s.keys.room(roomID)}, at.UnixMicro(), formatTime(at)).Int()
	if err != nil {
		return fmt.Errorf("touch room %s: %w", roomID, err)
	}
	if res == -1 {
		return chat.ErrRoomNotFound
	}
	return nil
}

func (s *Store) SaveUser(ctx context.Context, identity chat.Identity) error {
	key := s.keys.user(identity.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "id", identity.ID, "name", identity.DisplayName)
	pipe.HSetNX(ctx, key, "online", "0")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save user %s: %w", identity.ID, err)
	}
	return nil
}

func (s *Store) User(ctx context.Context, userID string) (*chat.User, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.user(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return nil, chat.ErrUserNotFound
	}
	return decodeUser(fields), nil
}

func (s *Store) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	keys := []string{s.keys.user(userID), s.keys.online()}
	res, err := presenceScript.Run(ctx, s.client, keys, userID, boolArg(online), formatTime(at)).Int()
	if err != nil {
		return fmt.Errorf("set presence of %s: %w", userID, err)
	}
	if res == -1 {
		return chat.ErrUserNotFound
	}
	return nil
}

func (s *Store) OnlineUsers(ctx context.Context, userIDs []string) ([]*chat.User, error) {
	if userIDs == nil {
		ids, err := s.client.SMembers(ctx, s.keys.online()).Result()
		if err != nil {
			return nil, fmt.Errorf("list online users: %w", err)
		}
		sort.Strings(ids)
		userIDs = ids
	}
	out := []*chat.User{}
	if len(userIDs) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, s.keys.user(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 || fields["online"] != "1" {
			continue
		}
		out = append(out, decodeUser(fields))
	}
	return out, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *chat.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	key := s.keys.message(msg.ID)
	score := float64(msg.CreatedAt.UnixMicro())

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"id", msg.ID,
		"senderId", msg.SenderID,
		"senderName", msg.SenderDisplayName,
		"content", msg.Content,
		"roomId", msg.RoomID,
		"private", boolArg(msg.IsPrivate),
		"recipientId", msg.RecipientID,
		"createdAt", formatTime(msg.CreatedAt),
		"deletedAt", formatOptionalTime(msg.DeletedAt),
		"read", boolArg(msg.Read),
		"reactionSeq", len(msg.Reactions),
	)
	for i, reader := range msg.ReadBy {
		pipe.ZAddNX(ctx, s.keys.readBy(msg.ID), redis.Z{Score: float64(i), Member: reader})
	}
	for i, r := range msg.Reactions {
		pipe.ZAddNX(ctx, s.keys.reactions(msg.ID), redis.Z{Score: float64(i + 1), Member: reactionMember(r.UserID, r.Emoji)})
	}
	index := s.keys.roomMessages(msg.RoomID)
	if msg.IsPrivate {
		index = s.keys.conversation(msg.SenderID, msg.RecipientID)
	}
	pipe.ZAdd(ctx, index, redis.Z{Score: score, Member: msg.ID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) Message(ctx context.Context, messageID string) (*chat.Message, error) {
	msgs, err := s.messagesByID(ctx, []string{messageID})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, chat.ErrMessageNotFound
	}
	return msgs[0], nil
}

func (s *Store) RoomMessages(ctx context.Context, roomID string, offset, limit int) ([]*chat.Message, error) {
	return s.page(ctx, s.keys.roomMessages(roomID), offset, limit)
}

func (s *Store) PrivateMessages(ctx context.Context, userA, userB string, offset, limit int) ([]*chat.Message, error) {
	return s.page(ctx, s.keys.conversation(userA, userB), offset, limit)
}

func (s *Store) page(ctx context.Context, index string, offset, limit int) ([]*chat.Message, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, index, int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", index, err)
	}
	if len(ids) == 0 {
		return []*chat.Message{}, nil
	}
	return s.messagesByID(ctx, ids)
}

func (s *Store) SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) (*chat.Message, bool, error) {
	res, err := softDeleteScript.Run(ctx, s.client, []string{s.keys.message(messageID)}, formatTime(at), chat.DeletedPlaceholder).Int()
	return s.afterScript(ctx, "delete message", messageID, res, err)
}

func (s *Store) ToggleReaction(ctx context.Context, messageID string, reaction chat.Reaction) (*chat.Message, bool, error) {
	keys := []string{s.keys.message(messageID), s.keys.reactions(messageID)}
	res, err := toggleReactionScript.Run(ctx, s.client, keys, reactionMember(reaction.UserID, reaction.Emoji)).Int()
	return s.afterScript(ctx, "toggle reaction", messageID, res, err)
}

func (s *Store) AddReader(ctx context.Context, messageID, userID string) (*chat.Message, bool, error) {
	keys := []string{s.keys.message(messageID), s.keys.readBy(messageID)}
	res, err := addReaderScript.Run(ctx, s.client, keys, userID).Int()
	return s.afterScript(ctx, "add reader", messageID, res, err)
}

func (s *Store) SetRead(ctx context.Context, messageID string, read bool) error {
	res, err := setReadScript.Run(ctx, s.client, []string{s.keys.message(messageID)}, boolArg(read)).Int()
	if err != nil {
		return fmt.Errorf("set read on %s: %w", messageID, err)
	}
	if res == -1 {
		return chat.ErrMessageNotFound
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// afterScript maps a mutation script's result and reloads the message.
func (s *Store) afterScript(ctx context.Context, op, messageID string, res int, err error) (*chat.Message, bool, error) {
	if err != nil {
		return nil, false, fmt.Errorf("%s %s: %w", op, messageID, err)
	}
	if res == -1 {
		return nil, false, chat.ErrMessageNotFound
	}
	msg, err := s.Message(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return msg, res == 1, nil
}

// roomsByID loads rooms in one round trip. Missing rooms are nil.
func (s *Store) roomsByID(ctx context.Context, ids []string) ([]*chat.Room, error) {
	pipe := s.client.Pipeline()
	hashes := make([]*redis.MapStringStringCmd, len(ids))
	members := make([]*redis.StringSliceCmd, len(ids))
	for i, id := range ids {
		hashes[i] = pipe.HGetAll(ctx, s.keys.room(id))
		members[i] = pipe.SMembers(ctx, s.keys.members(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	out := make([]*chat.Room, len(ids))
	for i := range ids {
		fields := hashes[i].Val()
		if len(fields) == 0 {
			continue
		}
		room, err := decodeRoom(fields, members[i].Val())
		if err != nil {
			return nil, err
		}
		out[i] = room
	}
	return out, nil
}

// messagesByID loads messages in one round trip, preserving order and
// skipping ids that no longer resolve.
func (s *Store) messagesByID(ctx context.Context, ids []string) ([]*chat.Message, error) {
	pipe := s.client.Pipeline()
	hashes := make([]*redis.MapStringStringCmd, len(ids))
	readers := make([]*redis.StringSliceCmd, len(ids))
	reactions := make([]*redis.StringSliceCmd, len(ids))
	for i, id := range ids {
		hashes[i] = pipe.HGetAll(ctx, s.keys.message(id))
		readers[i] = pipe.ZRange(ctx, s.keys.readBy(id), 0, -1)
		reactions[i] = pipe.ZRange(ctx, s.keys.reactions(id), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	out := make([]*chat.Message, 0, len(ids))
	for i, id := range ids {
		fields := hashes[i].Val()
		if len(fields) == 0 {
			s.log.Warn("dangling message index entry", zap.String("message_id", id))
			continue
		}
		msg, err := decodeMessage(fields, readers[i].Val(), reactions[i].Val())
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func decodeRoom(fields map[string]string, members []string) (*chat.Room, error) {
	createdAt, err := parseTime(fields["createdAt"])
	if err != nil {
		return nil, fmt.Errorf("decode room %s: %w", fields["id"], err)
	}
	lastMessageAt, err := parseTime(fields["lastMessageAt"])
	if err != nil {
		return nil, fmt.Errorf("decode room %s: %w", fields["id"], err)
	}
	count, _ := strconv.ParseInt(fields["messageCount"], 10, 64)
	sort.Strings(members)
	if members == nil {
		members = []string{}
	}
	return &chat.Room{
		ID:            fields["id"],
		Name:          fields["name"],
		IsGlobal:      fields["global"] == "1",
		Members:       members,
		MessageCount:  count,
		LastMessageAt: lastMessageAt,
		CreatedBy:     fields["createdBy"],
		CreatedAt:     createdAt,
	}, nil
}

func decodeUser(fields map[string]string) *chat.User {
	lastSeen, _ := parseTime(fields["lastSeen"])
	return &chat.User{
		ID:          fields["id"],
		DisplayName: fields["name"],
		Online:      fields["online"] == "1",
		LastSeen:    lastSeen,
	}
}

func decodeMessage(fields map[string]string, readers, reactions []string) (*chat.Message, error) {
	createdAt, err := parseTime(fields["createdAt"])
	if err != nil {
		return nil, fmt.Errorf("decode message %s: %w", fields["id"], err)
	}
	msg := &chat.Message{
		ID:                fields["id"],
		SenderID:          fields["senderId"],
		SenderDisplayName: fields["senderName"],
		Content:           fields["content"],
		RoomID:            fields["roomId"],
		IsPrivate:         fields["private"] == "1",
		RecipientID:       fields["recipientId"],
		CreatedAt:         createdAt,
		ReadBy:            append([]string{}, readers...),
		Reactions:         make([]chat.Reaction, 0, len(reactions)),
		Read:              fields["read"] == "1",
	}
	if raw := fields["deletedAt"]; raw != "" {
		deletedAt, err := parseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("decode message %s: %w", msg.ID, err)
		}
		msg.DeletedAt = &deletedAt
	}
	for _, member := range reactions {
		userID, emoji, ok := parseReactionMember(member)
		if !ok {
			continue
		}
		msg.Reactions = append(msg.Reactions, chat.Reaction{UserID: userID, Emoji: emoji})
	}
	return msg, nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
