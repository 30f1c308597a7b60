// Package postgres implements chat.Store on PostgreSQL. Membership and
// readers are TEXT[] columns mutated with conditional array_append and
// array_remove; reactions are rows toggled by a single delete-or-insert
// statement.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/chat"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	checkViolation      = "23514"

	globalRoomIndex = "rooms_single_global"
)

// Store is a chat.Store backed by a *sql.DB using the lib/pq driver.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

var _ chat.Store = (*Store)(nil)

// Open connects to url, pings and applies the schema.
func Open(ctx context.Context, url string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(db, log)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. The store owns db and closes it.
func New(db *sql.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const roomColumns = `id, name, is_global, members, message_count, last_message_at, created_by, created_at`

func scanRoom(row interface{ Scan(...any) error }) (*chat.Room, error) {
	var (
		r       chat.Room
		members pq.StringArray
	)
	if err := row.Scan(&r.ID, &r.Name, &r.IsGlobal, &members, &r.MessageCount, &r.LastMessageAt, &r.CreatedBy, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Members = []string(members)
	if r.Members == nil {
		r.Members = []string{}
	}
	return &r, nil
}

func (s *Store) CreateRoom(ctx context.Context, room *chat.Room) error {
	members := room.Members
	if members == nil {
		members = []string{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (`+roomColumns+`) VALUES ($1,$2,$3,$4,0,$5,$6,$7)`,
		room.ID, room.Name, room.IsGlobal, pq.Array(members), room.LastMessageAt, room.CreatedBy, room.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if pqErr.Constraint == globalRoomIndex {
			return chat.ErrGlobalRoomExists
		}
		return chat.ErrRoomNameTaken
	}
	if err != nil {
		return fmt.Errorf("insert room %s: %w", room.ID, err)
	}
	return nil
}

func (s *Store) Room(ctx context.Context, roomID string) (*chat.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, roomID))
	return room, roomErr(roomID, err)
}

func (s *Store) GlobalRoom(ctx context.Context) (*chat.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE is_global`))
	return room, roomErr("global", err)
}

func (s *Store) Rooms(ctx context.Context) ([]*chat.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roomColumns+` FROM rooms ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	out := []*chat.Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

func (s *Store) AddMember(ctx context.Context, roomID, userID string) (*chat.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx, `
		UPDATE rooms
		SET members = CASE WHEN $2 = ANY(members) THEN members ELSE array_append(members, $2) END
		WHERE id = $1
		RETURNING `+roomColumns, roomID, userID))
	return room, roomErr(roomID, err)
}

func (s *Store) RemoveMember(ctx context.Context, roomID, userID string) (*chat.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx, `
		UPDATE rooms SET members = array_remove(members, $2)
		WHERE id = $1
		RETURNING `+roomColumns, roomID, userID))
	return room, roomErr(roomID, err)
}

func (s *Store) TouchRoom(ctx context.Context, roomID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET message_count = message_count + 1, last_message_at = GREATEST(last_message_at, $2)
		WHERE id = $1`, roomID, at)
	if err != nil {
		return fmt.Errorf("touch room %s: %w", roomID, err)
	}
	return requireRow(res, chat.ErrRoomNotFound)
}

func (s *Store) SaveUser(ctx context.Context, identity chat.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		identity.ID, identity.DisplayName)
	if err != nil {
		return fmt.Errorf("save user %s: %w", identity.ID, err)
	}
	return nil
}

const userColumns = `id, display_name, online, last_seen`

func scanUser(row interface{ Scan(...any) error }) (*chat.User, error) {
	var (
		u        chat.User
		lastSeen sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Online, &lastSeen); err != nil {
		return nil, err
	}
	u.LastSeen = lastSeen.Time
	return &u, nil
}

func (s *Store) User(ctx context.Context, userID string) (*chat.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return user, nil
}

func (s *Store) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET online = $2, last_seen = $3 WHERE id = $1`, userID, online, at)
	if err != nil {
		return fmt.Errorf("set presence of %s: %w", userID, err)
	}
	return requireRow(res, chat.ErrUserNotFound)
}

func (s *Store) OnlineUsers(ctx context.Context, userIDs []string) ([]*chat.User, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if userIDs == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE online ORDER BY id`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE online AND id = ANY($1)
			 ORDER BY array_position($1, id)`, pq.Array(userIDs))
	}
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	defer rows.Close()

	out := []*chat.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

const messageColumns = `m.id, m.sender_id, m.sender_name, m.content, COALESCE(m.room_id, ''),
	m.is_private, COALESCE(m.recipient_id, ''), m.created_at, m.read_by, m.read, m.deleted_at,
	ARRAY(SELECT r.user_id FROM message_reactions r WHERE r.message_id = m.id ORDER BY r.id),
	ARRAY(SELECT r.emoji FROM message_reactions r WHERE r.message_id = m.id ORDER BY r.id)`

func scanMessage(row interface{ Scan(...any) error }) (*chat.Message, error) {
	var (
		m                chat.Message
		readBy           pq.StringArray
		reactors, emojis pq.StringArray
		deletedAt        sql.NullTime
	)
	err := row.Scan(&m.ID, &m.SenderID, &m.SenderDisplayName, &m.Content, &m.RoomID,
		&m.IsPrivate, &m.RecipientID, &m.CreatedAt, &readBy, &m.Read, &deletedAt,
		&reactors, &emojis)
	if err != nil {
		return nil, err
	}
	m.ReadBy = append([]string{}, readBy...)
	m.Reactions = make([]chat.Reaction, 0, len(reactors))
	for i := range reactors {
		m.Reactions = append(m.Reactions, chat.Reaction{UserID: reactors[i], Emoji: emojis[i]})
	}
	if deletedAt.Valid {
		at := deletedAt.Time
		m.DeletedAt = &at
	}
	return &m, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *chat.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, sender_name, content, room_id, is_private,
			recipient_id, created_at, read_by, read, deleted_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9, $10, $11)`,
		msg.ID, msg.SenderID, msg.SenderDisplayName, msg.Content, msg.RoomID, msg.IsPrivate,
		msg.RecipientID, msg.CreatedAt, pq.Array(readBy), msg.Read, msg.DeletedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == checkViolation {
		return fmt.Errorf("%w: %s", chat.ErrValidation, pqErr.Message)
	}
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	for _, r := range msg.Reactions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`, msg.ID, r.UserID, r.Emoji); err != nil {
			return fmt.Errorf("insert reaction on %s: %w", msg.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *Store) Message(ctx context.Context, messageID string) (*chat.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	return msg, nil
}

func (s *Store) RoomMessages(ctx context.Context, roomID string, offset, limit int) ([]*chat.Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages m
		WHERE m.room_id = $1
		ORDER BY m.created_at DESC, m.seq DESC
		OFFSET $2 LIMIT $3`, roomID, clampOffset(offset), limitArg(limit))
}

func (s *Store) PrivateMessages(ctx context.Context, userA, userB string, offset, limit int) ([]*chat.Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages m
		WHERE m.is_private
		  AND ((m.sender_id = $1 AND m.recipient_id = $2) OR (m.sender_id = $2 AND m.recipient_id = $1))
		ORDER BY m.created_at DESC, m.seq DESC
		OFFSET $3 LIMIT $4`, userA, userB, clampOffset(offset), limitArg(limit))
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []*chat.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *Store) SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) (*chat.Message, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET deleted_at = $2, content = $3
		WHERE id = $1 AND deleted_at IS NULL`, messageID, at, chat.DeletedPlaceholder)
	if err != nil {
		return nil, false, fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return s.afterUpdate(ctx, messageID, res)
}

// ToggleReaction locks the message row so concurrent toggles of one message
// apply one after another and each reports the state it produced.
func (s *Store) ToggleReaction(ctx context.Context, messageID string, reaction chat.Reaction) (*chat.Message, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin toggle reaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM messages WHERE id = $1 FOR UPDATE`, messageID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, chat.ErrMessageNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("lock message %s: %w", messageID, err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM message_reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, reaction.UserID, reaction.Emoji)
	if err != nil {
		return nil, false, fmt.Errorf("remove reaction on %s: %w", messageID, err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if removed == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_reactions (message_id, user_id, emoji)
			VALUES ($1, $2, $3)`,
			messageID, reaction.UserID, reaction.Emoji); err != nil {
			return nil, false, fmt.Errorf("add reaction on %s: %w", messageID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit toggle reaction: %w", err)
	}

	msg, err := s.Message(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return msg, removed == 0, nil
}

func (s *Store) AddReader(ctx context.Context, messageID, userID string) (*chat.Message, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read_by = array_append(read_by, $2)
		WHERE id = $1 AND NOT ($2 = ANY(read_by))`, messageID, userID)
	if err != nil {
		return nil, false, fmt.Errorf("add reader to %s: %w", messageID, err)
	}
	return s.afterUpdate(ctx, messageID, res)
}

func (s *Store) SetRead(ctx context.Context, messageID string, read bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read = $2 WHERE id = $1`, messageID, read)
	if err != nil {
		return fmt.Errorf("set read on %s: %w", messageID, err)
	}
	return requireRow(res, chat.ErrMessageNotFound)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// afterUpdate reloads the message after a conditional update. Messages are
// never removed, so a reload that finds nothing means the id never existed.
func (s *Store) afterUpdate(ctx context.Context, messageID string, res sql.Result) (*chat.Message, bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	msg, err := s.Message(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return msg, n == 1, nil
}

func roomErr(roomID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return chat.ErrRoomNotFound
	}
	return fmt.Errorf("room %s: %w", roomID, err)
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as
// LIMIT ALL.
func limitArg(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}
