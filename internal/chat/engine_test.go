package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/store/memory"
)

type delivery struct {
	Audience chat.Audience
	Event    chat.Event
}

// recordingFanout captures every publish and subscription change.
type recordingFanout struct {
	mu         sync.Mutex
	deliveries []delivery
	subs       map[string]map[string]bool
}

func newRecordingFanout() *recordingFanout {
	return &recordingFanout{subs: make(map[string]map[string]bool)}
}

func (f *recordingFanout) Subscribe(sessionID, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[roomID] == nil {
		f.subs[roomID] = make(map[string]bool)
	}
	f.subs[roomID][sessionID] = true
}

func (f *recordingFanout) Unsubscribe(sessionID, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[roomID], sessionID)
}

func (f *recordingFanout) Publish(audience chat.Audience, event chat.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, delivery{Audience: audience, Event: event})
}

func (f *recordingFanout) subscribed(sessionID, roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[roomID][sessionID]
}

func (f *recordingFanout) named(name string) []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []delivery
	for _, d := range f.deliveries {
		if d.Event.Name == name {
			out = append(out, d)
		}
	}
	return out
}

func (f *recordingFanout) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = nil
}

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	fanout *recordingFanout
	engine *chat.Engine
	global *chat.Room
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var seq int
	var mu sync.Mutex
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	f := &fixture{
		ctx:    context.Background(),
		store:  memory.New(),
		fanout: newRecordingFanout(),
	}
	f.engine = chat.NewEngine(f.store, f.fanout,
		chat.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		}),
		chat.WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	global, err := f.engine.EnsureGlobalRoom(f.ctx, "Global Chat")
	require.NoError(t, err)
	f.global = global
	return f
}

func (f *fixture) connect(t *testing.T, userID, name string) *chat.Session {
	t.Helper()
	s := chat.NewSession("sess-"+userID, chat.Identity{ID: userID, DisplayName: name})
	require.NoError(t, f.engine.Connect(f.ctx, s))
	return s
}

// TestEnsureGlobalRoomIsIdempotent verifies startup can run repeatedly.
func TestEnsureGlobalRoomIsIdempotent(t *testing.T) {
	f := newFixture(t)

	again, err := f.engine.EnsureGlobalRoom(f.ctx, "Global Chat")
	require.NoError(t, err)
	assert.Equal(t, f.global.ID, again.ID)
	assert.True(t, again.IsGlobal)
}

// TestConnectBroadcastsPresenceToOthers verifies online and offline events
// skip the originating connection.
func TestConnectBroadcastsPresenceToOthers(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "Alice")

	online := f.fanout.named(chat.EventUserOnline)
	require.Len(t, online, 1)
	assert.True(t, online[0].Audience.Everyone)
	assert.Equal(t, alice.ID(), online[0].Audience.Except)

	user, err := f.engine.User(f.ctx, "alice")
	require.NoError(t, err)
	assert.True(t, user.Online)

	require.NoError(t, f.engine.Disconnect(f.ctx, alice))
	offline := f.fanout.named(chat.EventUserOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, chat.PresenceEvent{UserID: "alice"}, offline[0].Event.Data)

	user, err = f.engine.User(f.ctx, "alice")
	require.NoError(t, err)
	assert.False(t, user.Online)
}

// TestJoinRoom verifies membership, subscription and the joined snapshot.
func TestJoinRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "Alice")

	_, err := f.engine.JoinRoom(f.ctx, alice, "")
	assert.ErrorIs(t, err, chat.ErrRoomIDRequired)
	_, err = f.engine.JoinRoom(f.ctx, alice, "nope")
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)

	result, err := f.engine.JoinRoom(f.ctx, alice, f.global.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, result.Room.Members)
	assert.Empty(t, result.Messages)
	require.Len(t, result.OnlineUsers, 1)
	assert.True(t, f.fanout.subscribed(alice.ID(), f.global.ID))

	joined := f.fanout.named(chat.EventRoomJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, alice.ID(), joined[0].Audience.SessionID)

	others := f.fanout.named(chat.EventUserJoinedRoom)
	require.Len(t, others, 1)
	assert.Equal(t, f.global.ID, others[0].Audience.RoomID)
	assert.Equal(t, alice.ID(), others[0].Audience.Except)

	_, err = f.engine.JoinRoom(f.ctx, alice, f.global.ID)
	require.NoError(t, err)
	room, err := f.engine.Room(f.ctx, f.global.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, room.Members)
}

// TestJoinReturnsRecentHistoryOldestFirst verifies the snapshot window.
func TestJoinReturnsRecentHistoryOldestFirst(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "Alice")
	bob := f.connect(t, "bob", "Bob")

	for i := 0; i < chat.DefaultHistoryLimit+5; i++ {
		_, err := f.engine.SendMessage(f.ctx, alice, chat.SendCommand{Content: fmt.Sprintf("m%d", i), RoomID: f.global.ID})
		require.NoError(t, err)
	}

	result, err := f.engine.JoinRoom(f.ctx, bob, f.global.ID)
	require.NoError(t, err)
	require.Len(t, result.Messages, chat.DefaultHistoryLimit)
	assert.Equal(t, "m5", result.Messages[0].Content)
	assert.Equal(t, fmt.Sprintf("m%d", chat.DefaultHistoryLimit+4), result.Messages[len(result.Messages)-1].Content)
}

// historyFailingStore fails every room history read.
type historyFailingStore struct {
	*memory.Store
}

func (historyFailingStore) RoomMessages(context.Context, string, int, int) ([]*chat.Message, error) {
	return nil, errors.New("connection reset")
}

// TestJoinRoomSnapshotFailureDropsSubscription verifies a failed join leaves
// the connection outside the room's broadcast group.
func TestJoinRoomSnapshotFailureDropsSubscription(t *testing.T) {
	ctx := context.Background()
	st := historyFailingStore{Store: memory.New()}
	fanout := newRecordingFanout()
	engine := chat.NewEngine(st, fanout)
	global, err := engine.EnsureGlobalRoom(ctx, "Global Chat")
	require.NoError(t, err)

	s := chat.NewSession("sess-A", chat.Identity{ID: "A", DisplayName: "Ann"})
	_, err = engine.JoinRoom(ctx, s, global.ID)
	assert.ErrorIs(t, err, chat.ErrPersistence)
	assert.False(t, fanout.subscribed("sess-A", global.ID))
	assert.Empty(t, fanout.named(chat.EventRoomJoined))
	assert.Empty(t, fanout.named(chat.EventUserJoinedRoom))
}

// TestLeaveRoom verifies membership removal and notifications.
func TestLeaveRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "Alice")
	_, err := f.engine.JoinRoom(f.ctx, alice, f.global.ID)
	require.NoError(t, err)

	result, err := f.engine.LeaveRoom(f.ctx, alice, f.global.ID)
	require.NoError(t, err)
	assert.Equal(t, "Successfully left room", result.Message)
	assert.False(t, f.fanout.subscribed(alice.ID(), f.global.ID))
	assert.Len(t, f.fanout.named(chat.EventRoomLeft), 1)
	assert.Len(t, f.fanout.named(chat.EventUserLeftRoom), 1)

	room, err := f.engine.Room(f.ctx, f.global.ID)
	require.NoError(t, err)
	assert.Empty(t, room.Members)

	_, err = f.engine.LeaveRoom(f.ctx, alice, "nope")
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)
}

// TestNonMemberForbiddenUntilJoined verifies authorization is checked against
// current membership.
func TestNonMemberForbiddenUntilJoined(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "Alice")
	bob := f.connect(t, "bob", "Bob")

	room, err := f.engine.CreateRoom(f.ctx, alice.Identity(), "Team", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, room.Members)

	_, err = f.engine.SendMessage(f.ctx, bob, chat.SendCommand{Content: "hello", RoomID: room.ID})
	assert.ErrorIs(t, err, chat.ErrNotMember)
	assert.ErrorIs(t, err, chat.ErrForbidden)

	_, err = f.engine.JoinRoom(f.ctx, bob, room.ID)
	require.NoError(t, err)
	msg, err := f.engine.SendMessage(f.ctx, bob, chat.SendCommand{Content: "hello", RoomID: room.ID})
	require.NoError(t, err)
	assert.Equal(t, room.ID, msg.RoomID)
}

// TestCreateRoomNameConflict verifies unique room names.
func TestCreateRoomNameConflict(t *testing.T) {
	f := newFixture(t)
	alice := chat.Identity{ID: "alice", DisplayName: "Alice"}

	_, err := f.engine.CreateRoom(f.ctx, alice, "  ", nil)
	assert.ErrorIs(t, err, chat.ErrRoomNameRequired)

	room, err := f.engine.CreateRoom(f.ctx, alice, "Team", []string{"bob", "alice", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, room.Members)

	_, err = f.engine.CreateRoom(f.ctx, alice, "Team", nil)
	assert.ErrorIs(t, err, chat.ErrRoomNameTaken)
	assert.ErrorIs(t, err, chat.ErrConflict)
}

// TestSendMessageValidation verifies target and content checks.
func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "Alice")

	tests := []struct {
		name string
		cmd  chat.SendCommand
		want error
	}{
		{"blank content", chat.SendCommand{Content: "   ", RoomID: f.global.ID}, chat.ErrEmptyContent},
		{"no room", chat.SendCommand{Content: "hi"}, chat.ErrRoomIDRequired},
		{"missing room", chat.SendCommand{Content: "hi", RoomID: "nope"}, chat.ErrRoomNotFound},
		{"no recipient", chat.SendCommand{Content: "hi", IsPrivate: true}, chat.ErrRecipientRequired},
		{"unknown recipient", chat.SendCommand{Content: "hi", IsPrivate: true, RecipientID: "ghost"}, chat.ErrRecipientNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.SendMessage(f.ctx, alice, tt.cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.fanout.named(chat.EventNewRoomMessage))
}

// TestSendRoomMessageUpdatesCounters verifies the persisted shape and
// the room counter.
func TestSendRoomMessageUpdatesCounters(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "alice", "Alice")

	msg, err := f.engine.SendMessage(f.ctx, alice, chat.SendCommand{Content: "  hi  ", RoomID: f.global.ID})
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "Alice", msg.SenderDisplayName)
	assert.Equal(t, []string{"alice"}, msg.ReadBy)
	assert.Empty(t, msg.Reactions)
	assert.Nil(t, msg.DeletedAt)

	room, err := f.engine.Room(f.ctx, f.global.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), room.MessageCount)
	assert.Equal(t, msg.CreatedAt, room.LastMessageAt)

	sent := f.fanout.named(chat.EventNewRoomMessage)
	require.Len(t, sent, 1)
	assert.Equal(t, chat.ToRoom(f.global.ID), sent[0].Audience)
}

// TestGlobalRoomScenario walks the join, send and read flow on the global room.
func TestGlobalRoomScenario(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "A", "Ann")
	b := f.connect(t, "B", "Ben")

	_, err := f.engine.SendMessage(f.ctx, a, chat.SendCommand{Content: "x", RoomID: "R"})
	assert.ErrorIs(t, err, chat.ErrNotFound)

	_, err = f.engine.JoinRoom(f.ctx, a, f.global.ID)
	require.NoError(t, err)
	hi, err := f.engine.SendMessage(f.ctx, a, chat.SendCommand{Content: "hi", RoomID: f.global.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, hi.ReadBy)

	joined, err := f.engine.JoinRoom(f.ctx, b, f.global.ID)
	require.NoError(t, err)
	require.Len(t, joined.Messages, 1)
	assert.Equal(t, "hi", joined.Messages[0].Content)

	f.fanout.reset()
	read, err := f.engine.MarkRead(f.ctx, b, hi.ID)
	require.NoError(t, err)
	assert.True(t, read.AllRead)
	assert.ElementsMatch(t, []string{"A", "B"}, read.Message.ReadBy)

	events := f.fanout.named(chat.EventMessageRead)
	require.Len(t, events, 1)
	assert.Equal(t, chat.MessageReadEvent{MessageID: hi.ID, UserID: "B", Username: "Ben", AllRead: true}, events[0].Event.Data)
	assert.Equal(t, chat.ToRoom(f.global.ID), events[0].Audience)
}

// TestPrivateReactionScenario verifies toggling the same reaction twice
// leaves the message as if nobody had reacted.
func TestPrivateReactionScenario(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "A", "Ann")
	b := f.connect(t, "B", "Ben")

	msg, err := f.engine.SendMessage(f.ctx, a, chat.SendCommand{Content: "psst", IsPrivate: true, RecipientID: "B"})
	require.NoError(t, err)
	sent := f.fanout.named(chat.EventNewPrivateMessage)
	require.Len(t, sent, 1)
	assert.Equal(t, chat.ToUsers("A", "B"), sent[0].Audience)

	first, err := f.engine.React(f.ctx, b, msg.ID, "👍")
	require.NoError(t, err)
	assert.True(t, first.Added)
	assert.Len(t, first.Message.Reactions, 1)

	second, err := f.engine.React(f.ctx, b, msg.ID, "👍")
	require.NoError(t, err)
	assert.False(t, second.Added)
	assert.Empty(t, second.Message.Reactions)

	added := f.fanout.named(chat.EventReactionAdded)
	require.Len(t, added, 1)
	assert.Equal(t, "Ben", added[0].Event.Data.(chat.ReactionEvent).Username)
	removed := f.fanout.named(chat.EventReactionRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, chat.ToUsers("A", "B"), removed[0].Audience)

	_, err = f.engine.React(f.ctx, b, msg.ID, " ")
	assert.ErrorIs(t, err, chat.ErrEmptyEmoji)
	_, err = f.engine.React(f.ctx, b, "nope", "👍")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

// TestMarkReadIsIdempotent verifies a repeat read changes nothing.
func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "A", "Ann")
	b := f.connect(t, "B", "Ben")
	msg, err := f.engine.SendMessage(f.ctx, a, chat.SendCommand{Content: "psst", IsPrivate: true, RecipientID: "B"})
	require.NoError(t, err)

	first, err := f.engine.MarkRead(f.ctx, b, msg.ID)
	require.NoError(t, err)
	assert.True(t, first.AllRead)
	assert.False(t, first.AlreadyRead)

	second, err := f.engine.MarkRead(f.ctx, b, msg.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyRead)
	assert.True(t, second.AllRead)
	assert.Len(t, f.fanout.named(chat.EventMessageRead), 1)

	stored, err := f.store.Message(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, stored.ReadBy)

	own, err := f.engine.MarkRead(f.ctx, a, msg.ID)
	require.NoError(t, err)
	assert.True(t, own.AlreadyRead)
}

// TestLeaveCanCompleteReadAggregate verifies a membership decrease alone can
// make a room message fully read.
func TestLeaveCanCompleteReadAggregate(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "A", "Ann")
	b := f.connect(t, "B", "Ben")
	c := f.connect(t, "C", "Cat")

	room, err := f.engine.CreateRoom(f.ctx, a.Identity(), "Team", []string{"B", "C"})
	require.NoError(t, err)
	msg, err := f.engine.SendMessage(f.ctx, a, chat.SendCommand{Content: "hi", RoomID: room.ID})
	require.NoError(t, err)

	read, err := f.engine.MarkRead(f.ctx, b, msg.ID)
	require.NoError(t, err)
	assert.False(t, read.AllRead)

	_, err = f.engine.LeaveRoom(f.ctx, c, room.ID)
	require.NoError(t, err)

	stored, err := f.store.Message(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Read)

	_, err = f.engine.JoinRoom(f.ctx, c, room.ID)
	require.NoError(t, err)
	stored, err = f.store.Message(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Read)

	again, err := f.engine.MarkRead(f.ctx, b, msg.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyRead)
	assert.False(t, again.AllRead)
}

// TestPrivateReadNeedsBothParties verifies only the sender and recipient count
// toward a private message's aggregate.
func TestPrivateReadNeedsBothParties(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "A", "Ann")
	b := f.connect(t, "B", "Ben")
	c := f.connect(t, "C", "Cat")
	msg, err := f.engine.SendMessage(f.ctx, a, chat.SendCommand{Content: "psst", IsPrivate: true, RecipientID: "B"})
	require.NoError(t, err)

	_, err = f.engine.MarkRead(f.ctx, c, msg.ID)
	assert.ErrorIs(t, err, chat.ErrNotParticipant)
	assert.Empty(t, f.fanout.named(chat.EventMessageRead))

	stored, err := f.store.Message(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, stored.ReadBy)
	assert.False(t, stored.Read)

	read, err := f.engine.MarkRead(f.ctx, b, msg.ID)
	require.NoError(t, err)
	assert.True(t, read.AllRead)

	assert.False(t, chat.ReadAggregate(&chat.Message{
		IsPrivate: true, SenderID: "A", RecipientID: "B", ReadBy: []string{"A", "C"},
	}, nil))
}

// TestRepeatReadRecomputesAfterJoin verifies a message older than the join
// snapshot does not keep a stale aggregate once a new member arrives.
func TestRepeatReadRecomputesAfterJoin(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "A", "Ann")
	b := f.connect(t, "B", "Ben")
	c := f.connect(t, "C", "Cat")

	room, err := f.engine.CreateRoom(f.ctx, a.Identity(), "Team", []string{"B"})
	require.NoError(t, err)
	old, err := f.engine.SendMessage(f.ctx, a, chat.SendCommand{Content: "old", RoomID: room.ID})
	require.NoError(t, err)
	read, err := f.engine.MarkRead(f.ctx, b, old.ID)
	require.NoError(t, err)
	require.True(t, read.AllRead)

	for i := 0; i < chat.DefaultHistoryLimit; i++ {
		_, err := f.engine.SendMessage(f.ctx, a, chat.SendCommand{Content: fmt.Sprintf("m%d", i), RoomID: room.ID})
		require.NoError(t, err)
	}

	joined, err := f.engine.JoinRoom(f.ctx, c, room.ID)
	require.NoError(t, err)
	for _, m := range joined.Messages {
		require.NotEqual(t, old.ID, m.ID)
	}

	again, err := f.engine.MarkRead(f.ctx, b, old.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyRead)
	assert.False(t, again.AllRead)

	stored, err := f.store.Message(f.ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, stored.Read)

	last, err := f.engine.MarkRead(f.ctx, c, old.ID)
	require.NoError(t, err)
	assert.True(t, last.AllRead)
}

// TestDeleteMessage verifies authorship checks and irreversible redaction.
func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "A", "Ann")
	b := f.connect(t, "B", "Ben")
	msg, err := f.engine.SendMessage(f.ctx, a, chat.SendCommand{Content: "secret", RoomID: f.global.ID})
	require.NoError(t, err)

	_, err = f.engine.DeleteMessage(f.ctx, b, msg.ID)
	assert.ErrorIs(t, err, chat.ErrNotAuthor)
	_, err = f.engine.DeleteMessage(f.ctx, a, "")
	assert.ErrorIs(t, err, chat.ErrMessageIDRequired)
	_, err = f.engine.DeleteMessage(f.ctx, a, "nope")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)

	deleted, err := f.engine.DeleteMessage(f.ctx, a, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.DeletedPlaceholder, deleted.Content)
	assert.True(t, deleted.Deleted())

	_, err = f.engine.DeleteMessage(f.ctx, a, msg.ID)
	require.NoError(t, err)
	assert.Len(t, f.fanout.named(chat.EventMessageDeleted), 1)

	_, err = f.engine.React(f.ctx, b, msg.ID, "😮")
	require.NoError(t, err)
	_, err = f.engine.MarkRead(f.ctx, b, msg.ID)
	require.NoError(t, err)
	stored, err := f.store.Message(f.ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.DeletedPlaceholder, stored.Content)
}

// TestTyping verifies the relay excludes the typist and stores nothing.
func TestTyping(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "A", "Ann")

	assert.ErrorIs(t, f.engine.Typing(f.ctx, a, "", true), chat.ErrRoomIDRequired)
	require.NoError(t, f.engine.Typing(f.ctx, a, f.global.ID, true))
	require.NoError(t, f.engine.Typing(f.ctx, a, f.global.ID, false))

	typing := f.fanout.named(chat.EventUserTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, chat.ToRoom(f.global.ID).Excluding(a.ID()), typing[0].Audience)
	assert.Equal(t, chat.TypingEvent{UserID: "A", Username: "Ann", RoomID: f.global.ID}, typing[0].Event.Data)
	assert.Len(t, f.fanout.named(chat.EventUserStopTyping), 1)
}

// TestRoomHistory verifies access control and paging.
func TestRoomHistory(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "A", "Ann")
	room, err := f.engine.CreateRoom(f.ctx, a.Identity(), "Team", nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := f.engine.SendMessage(f.ctx, a, chat.SendCommand{Content: fmt.Sprintf("m%d", i), RoomID: room.ID})
		require.NoError(t, err)
	}

	_, err = f.engine.RoomHistory(f.ctx, "B", room.ID, chat.Page{})
	assert.ErrorIs(t, err, chat.ErrNotMember)

	page, err := f.engine.RoomHistory(f.ctx, "A", room.ID, chat.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m2", page[0].Content)
	assert.True(t, page[0].Read)

	page, err = f.engine.RoomHistory(f.ctx, "A", room.ID, chat.Page{Number: 2, Size: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m0", page[0].Content)

	_, err = f.engine.RoomHistory(f.ctx, "B", f.global.ID, chat.Page{})
	assert.NoError(t, err)
}

// TestPageNormalize verifies defaults and caps.
func TestPageNormalize(t *testing.T) {
	assert.Equal(t, chat.Page{Number: 1, Size: chat.DefaultHistoryLimit}, chat.Page{}.Normalize())
	assert.Equal(t, chat.Page{Number: 3, Size: chat.MaxPageSize}, chat.Page{Number: 3, Size: 1000}.Normalize())
	assert.Equal(t, 20, chat.Page{Number: 3, Size: 10}.Offset())
}

// TestPrivateHistory verifies both directions of a conversation are returned.
func TestPrivateHistory(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "A", "Ann")
	b := f.connect(t, "B", "Ben")
	_, err := f.engine.SendMessage(f.ctx, a, chat.SendCommand{Content: "one", IsPrivate: true, RecipientID: "B"})
	require.NoError(t, err)
	_, err = f.engine.SendMessage(f.ctx, b, chat.SendCommand{Content: "two", IsPrivate: true, RecipientID: "A"})
	require.NoError(t, err)

	msgs, err := f.engine.PrivateHistory(f.ctx, "A", "B", chat.Page{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)

	_, err = f.engine.PrivateHistory(f.ctx, "A", "", chat.Page{})
	assert.ErrorIs(t, err, chat.ErrRecipientRequired)
}

// TestConcurrentJoinsKeepEveryMember verifies no membership update is lost.
func TestConcurrentJoinsKeepEveryMember(t *testing.T) {
	f := newFixture(t)
	const users = 32
	sessions := make([]*chat.Session, users)
	for i := range sessions {
		sessions[i] = f.connect(t, fmt.Sprintf("u%02d", i), "user")
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *chat.Session) {
			defer wg.Done()
			_, err := f.engine.JoinRoom(f.ctx, s, f.global.ID)
			assert.NoError(t, err)
		}(s)
	}
	wg.Wait()

	room, err := f.engine.Room(f.ctx, f.global.ID)
	require.NoError(t, err)
	assert.Len(t, room.Members, users)
}
