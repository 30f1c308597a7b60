package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/store/storetest"
)

// TestConformance runs the shared store suite.
func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) chat.Store { return New() })
}

func seedMessage(t *testing.T, s *Store, id, roomID string, at time.Time) {
	t.Helper()
	require.NoError(t, s.InsertMessage(context.Background(), &chat.Message{
		ID:        id,
		SenderID:  "alice",
		Content:   "hi " + id,
		RoomID:    roomID,
		CreatedAt: at,
		ReadBy:    []string{"alice"},
		Reactions: []chat.Reaction{},
	}))
}

// TestCreateRoomUniqueness verifies room names and the global room are unique.
func TestCreateRoomUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateRoom(ctx, &chat.Room{ID: "g", Name: "Global Chat", IsGlobal: true}))
	assert.ErrorIs(t, s.CreateRoom(ctx, &chat.Room{ID: "g2", Name: "Other", IsGlobal: true}), chat.ErrGlobalRoomExists)
	assert.ErrorIs(t, s.CreateRoom(ctx, &chat.Room{ID: "x", Name: "Global Chat"}), chat.ErrRoomNameTaken)

	global, err := s.GlobalRoom(ctx)
	require.NoError(t, err)
	assert.Equal(t, "g", global.ID)
	assert.NotNil(t, global.Members)
}

// TestMembershipIsIdempotent verifies add and remove are set operations.
func TestMembershipIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRoom(ctx, &chat.Room{ID: "r", Name: "r"}))

	_, err := s.AddMember(ctx, "r", "alice")
	require.NoError(t, err)
	room, err := s.AddMember(ctx, "r", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, room.Members)

	room, err = s.RemoveMember(ctx, "r", "alice")
	require.NoError(t, err)
	assert.Empty(t, room.Members)
	room, err = s.RemoveMember(ctx, "r", "alice")
	require.NoError(t, err)
	assert.Empty(t, room.Members)

	_, err = s.AddMember(ctx, "missing", "alice")
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)
}

// TestReturnedValuesAreCopies verifies callers cannot mutate stored state.
func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRoom(ctx, &chat.Room{ID: "r", Name: "r", Members: []string{"alice"}}))
	seedMessage(t, s, "m1", "r", time.Now())

	room, err := s.Room(ctx, "r")
	require.NoError(t, err)
	room.Members[0] = "mallory"

	msg, err := s.Message(ctx, "m1")
	require.NoError(t, err)
	msg.ReadBy = append(msg.ReadBy, "mallory")

	room, _ = s.Room(ctx, "r")
	msg, _ = s.Message(ctx, "m1")
	assert.Equal(t, []string{"alice"}, room.Members)
	assert.Equal(t, []string{"alice"}, msg.ReadBy)
}

// TestRoomMessagesNewestFirst verifies paging order and bounds.
func TestRoomMessagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedMessage(t, s, fmt.Sprintf("m%d", i), "r", base.Add(time.Duration(i)*time.Second))
	}

	page, err := s.RoomMessages(ctx, "r", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m4", page[0].ID)
	assert.Equal(t, "m3", page[1].ID)

	page, err = s.RoomMessages(ctx, "r", 4, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m0", page[0].ID)

	page, err = s.RoomMessages(ctx, "empty", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

// TestPrivateMessagesBothDirections verifies a conversation is keyed by the
// unordered pair of parties.
func TestPrivateMessagesBothDirections(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertMessage(ctx, &chat.Message{ID: "p1", SenderID: "alice", RecipientID: "bob", IsPrivate: true, Content: "a"}))
	require.NoError(t, s.InsertMessage(ctx, &chat.Message{ID: "p2", SenderID: "bob", RecipientID: "alice", IsPrivate: true, Content: "b"}))
	require.NoError(t, s.InsertMessage(ctx, &chat.Message{ID: "p3", SenderID: "alice", RecipientID: "carol", IsPrivate: true, Content: "c"}))

	msgs, err := s.PrivateMessages(ctx, "bob", "alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "p2", msgs[0].ID)
	assert.Equal(t, "p1", msgs[1].ID)
}

// TestInsertRejectsInvalidAddressing verifies the private/room exclusivity check.
func TestInsertRejectsInvalidAddressing(t *testing.T) {
	s := New()
	err := s.InsertMessage(context.Background(), &chat.Message{ID: "bad", SenderID: "a", RoomID: "r", IsPrivate: true, RecipientID: "b"})
	assert.ErrorIs(t, err, chat.ErrValidation)
}

// TestSoftDeleteTransitionsOnce verifies the delete flag and placeholder.
func TestSoftDeleteTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedMessage(t, s, "m1", "r", time.Now())
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	msg, transitioned, err := s.SoftDeleteMessage(ctx, "m1", at)
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, chat.DeletedPlaceholder, msg.Content)
	require.NotNil(t, msg.DeletedAt)
	assert.Equal(t, at, *msg.DeletedAt)

	msg, transitioned, err = s.SoftDeleteMessage(ctx, "m1", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.Equal(t, at, *msg.DeletedAt)

	_, _, err = s.SoftDeleteMessage(ctx, "nope", at)
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

// TestToggleReaction verifies add then remove of the same pair.
func TestToggleReaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedMessage(t, s, "m1", "r", time.Now())
	r := chat.Reaction{UserID: "bob", Emoji: "👍"}

	msg, added, err := s.ToggleReaction(ctx, "m1", r)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []chat.Reaction{r}, msg.Reactions)

	msg, added, err = s.ToggleReaction(ctx, "m1", r)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, msg.Reactions)
}

// TestConcurrentReadersAreAllRecorded verifies no reader is lost when many
// identities mark the same message at once.
func TestConcurrentReadersAreAllRecorded(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedMessage(t, s, "m1", "r", time.Now())

	const readers = 64
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.AddReader(ctx, "m1", fmt.Sprintf("user-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msg, err := s.Message(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, msg.ReadBy, readers+1)
}

// TestConcurrentReactionTogglesNetOut verifies an even number of toggles per
// pair leaves no reaction behind.
func TestConcurrentReactionTogglesNetOut(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedMessage(t, s, "m1", "r", time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, user := range []string{"bob", "carol"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, _, _ = s.ToggleReaction(ctx, "m1", chat.Reaction{UserID: user, Emoji: "🔥"})
			}(user)
		}
	}
	wg.Wait()

	msg, err := s.Message(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, msg.Reactions)
}

// TestPresence verifies online filtering and that SaveUser keeps presence.
func TestPresence(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	require.NoError(t, s.SaveUser(ctx, chat.Identity{ID: "alice", DisplayName: "Alice"}))
	require.NoError(t, s.SaveUser(ctx, chat.Identity{ID: "bob", DisplayName: "Bob"}))
	require.NoError(t, s.SetPresence(ctx, "alice", true, now))
	require.NoError(t, s.SaveUser(ctx, chat.Identity{ID: "alice", DisplayName: "Alice L."}))

	online, err := s.OnlineUsers(ctx, nil)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "Alice L.", online[0].DisplayName)

	online, err = s.OnlineUsers(ctx, []string{"bob"})
	require.NoError(t, err)
	assert.Empty(t, online)

	assert.ErrorIs(t, s.SetPresence(ctx, "ghost", true, now), chat.ErrUserNotFound)
}
