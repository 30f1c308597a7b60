// Package storetest is a conformance suite every chat.Store backend runs from
// its own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// Factory returns an empty store. Cleanup is registered on t by the factory.
type Factory func(t *testing.T) chat.Store

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// Run exercises every Store method against a fresh store per subtest.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s chat.Store)
	}{
		{"Rooms", testRooms},
		{"Membership", testMembership},
		{"TouchRoom", testTouchRoom},
		{"Users", testUsers},
		{"Messages", testMessages},
		{"SoftDelete", testSoftDelete},
		{"Reactions", testReactions},
		{"Readers", testReaders},
		{"ConcurrentMembership", testConcurrentMembership},
		{"ConcurrentReaders", testConcurrentReaders},
		{"ConcurrentReactions", testConcurrentReactions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func room(id, name string, members ...string) *chat.Room {
	return &chat.Room{
		ID:            id,
		Name:          name,
		Members:       members,
		CreatedBy:     "alice",
		CreatedAt:     base,
		LastMessageAt: base,
	}
}

func roomMessage(id, roomID string, at time.Time) *chat.Message {
	return &chat.Message{
		ID:                id,
		SenderID:          "alice",
		SenderDisplayName: "Alice",
		Content:           "content " + id,
		RoomID:            roomID,
		CreatedAt:         at,
		ReadBy:            []string{"alice"},
		Reactions:         []chat.Reaction{},
	}
}

func testRooms(t *testing.T, s chat.Store) {
	ctx := context.Background()

	_, err := s.GlobalRoom(ctx)
	require.ErrorIs(t, err, chat.ErrRoomNotFound)

	global := room("g", "Global Chat")
	global.IsGlobal = true
	require.NoError(t, s.CreateRoom(ctx, global))
	require.NoError(t, s.CreateRoom(ctx, room("r1", "Team", "alice", "bob")))

	other := room("g2", "Another")
	other.IsGlobal = true
	assert.ErrorIs(t, s.CreateRoom(ctx, other), chat.ErrGlobalRoomExists)
	assert.ErrorIs(t, s.CreateRoom(ctx, room("r2", "Team")), chat.ErrRoomNameTaken)

	got, err := s.GlobalRoom(ctx)
	require.NoError(t, err)
	assert.Equal(t, "g", got.ID)
	assert.True(t, got.IsGlobal)
	assert.Empty(t, got.Members)

	got, err = s.Room(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Team", got.Name)
	assert.ElementsMatch(t, []string{"alice", "bob"}, got.Members)
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = s.Room(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)

	all, err := s.Rooms(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testMembership(t *testing.T, s chat.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, room("r", "Room")))

	for i := 0; i < 2; i++ {
		got, err := s.AddMember(ctx, "r", "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, got.Members)
	}
	for i := 0; i < 2; i++ {
		got, err := s.RemoveMember(ctx, "r", "bob")
		require.NoError(t, err)
		assert.Empty(t, got.Members)
	}

	_, err := s.AddMember(ctx, "missing", "bob")
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)
	_, err = s.RemoveMember(ctx, "missing", "bob")
	assert.ErrorIs(t, err, chat.ErrRoomNotFound)
}

func testTouchRoom(t *testing.T, s chat.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, room("r", "Room")))

	later := base.Add(time.Minute)
	require.NoError(t, s.TouchRoom(ctx, "r", later))
	require.NoError(t, s.TouchRoom(ctx, "r", base.Add(time.Second)))

	got, err := s.Room(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.MessageCount)
	assert.True(t, got.LastMessageAt.Equal(later))

	assert.ErrorIs(t, s.TouchRoom(ctx, "missing", later), chat.ErrRoomNotFound)
}

func testUsers(t *testing.T, s chat.Store) {
	ctx := context.Background()

	_, err := s.User(ctx, "alice")
	assert.ErrorIs(t, err, chat.ErrUserNotFound)
	assert.ErrorIs(t, s.SetPresence(ctx, "alice", true, base), chat.ErrUserNotFound)

	require.NoError(t, s.SaveUser(ctx, chat.Identity{ID: "alice", DisplayName: "Alice"}))
	require.NoError(t, s.SaveUser(ctx, chat.Identity{ID: "bob", DisplayName: "Bob"}))
	require.NoError(t, s.SetPresence(ctx, "alice", true, base))
	require.NoError(t, s.SaveUser(ctx, chat.Identity{ID: "alice", DisplayName: "Alice 2"}))

	user, err := s.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice 2", user.DisplayName)
	assert.True(t, user.Online)
	assert.True(t, user.LastSeen.Equal(base))

	online, err := s.OnlineUsers(ctx, nil)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "alice", online[0].ID)

	online, err = s.OnlineUsers(ctx, []string{"bob", "ghost"})
	require.NoError(t, err)
	assert.Empty(t, online)

	require.NoError(t, s.SetPresence(ctx, "alice", false, base.Add(time.Hour)))
	online, err = s.OnlineUsers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func testMessages(t *testing.T, s chat.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, room("r", "Room", "alice")))
	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertMessage(ctx, roomMessage(fmt.Sprintf("m%d", i), "r", base.Add(time.Duration(i)*time.Second))))
	}

	got, err := s.Message(ctx, "m0")
	require.NoError(t, err)
	assert.Equal(t, "content m0", got.Content)
	assert.Equal(t, "Alice", got.SenderDisplayName)
	assert.Equal(t, []string{"alice"}, got.ReadBy)
	assert.Empty(t, got.Reactions)
	assert.Nil(t, got.DeletedAt)
	assert.False(t, got.IsPrivate)

	_, err = s.Message(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)

	page, err := s.RoomMessages(ctx, "r", 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].ID)
	assert.Equal(t, "m2", page[1].ID)

	page, err = s.RoomMessages(ctx, "none", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	bad := roomMessage("bad", "r", base)
	bad.IsPrivate = true
	bad.RecipientID = "bob"
	assert.ErrorIs(t, s.InsertMessage(ctx, bad), chat.ErrValidation)

	for i, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}, {"alice", "carol"}} {
		require.NoError(t, s.InsertMessage(ctx, &chat.Message{
			ID:          fmt.Sprintf("p%d", i),
			SenderID:    pair[0],
			RecipientID: pair[1],
			IsPrivate:   true,
			Content:     "dm",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			ReadBy:      []string{pair[0]},
			Reactions:   []chat.Reaction{},
		}))
	}
	dms, err := s.PrivateMessages(ctx, "bob", "alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, dms, 2)
	assert.Equal(t, "p1", dms[0].ID)
	assert.Equal(t, "p0", dms[1].ID)
	assert.True(t, dms[0].IsPrivate)
	assert.Equal(t, "alice", dms[0].RecipientID)
}

func testSoftDelete(t *testing.T, s chat.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertMessage(ctx, roomMessage("m", "r", base)))

	at := base.Add(time.Hour)
	got, transitioned, err := s.SoftDeleteMessage(ctx, "m", at)
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, chat.DeletedPlaceholder, got.Content)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(at))

	got, transitioned, err = s.SoftDeleteMessage(ctx, "m", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.True(t, got.DeletedAt.Equal(at))

	_, _, err = s.SoftDeleteMessage(ctx, "missing", at)
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

func testReactions(t *testing.T, s chat.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertMessage(ctx, roomMessage("m", "r", base)))
	thumbs := chat.Reaction{UserID: "bob", Emoji: "👍"}
	heart := chat.Reaction{UserID: "bob", Emoji: "❤️"}

	got, added, err := s.ToggleReaction(ctx, "m", thumbs)
	require.NoError(t, err)
	assert.True(t, added)
	got, added, err = s.ToggleReaction(ctx, "m", heart)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []chat.Reaction{thumbs, heart}, got.Reactions)

	got, added, err = s.ToggleReaction(ctx, "m", thumbs)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []chat.Reaction{heart}, got.Reactions)

	_, _, err = s.ToggleReaction(ctx, "missing", thumbs)
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

func testReaders(t *testing.T, s chat.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertMessage(ctx, roomMessage("m", "r", base)))

	got, added, err := s.AddReader(ctx, "m", "bob")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"alice", "bob"}, got.ReadBy)

	got, added, err = s.AddReader(ctx, "m", "bob")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []string{"alice", "bob"}, got.ReadBy)

	require.NoError(t, s.SetRead(ctx, "m", true))
	got, err = s.Message(ctx, "m")
	require.NoError(t, err)
	assert.True(t, got.Read)

	_, _, err = s.AddReader(ctx, "missing", "bob")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
	assert.ErrorIs(t, s.SetRead(ctx, "missing", true), chat.ErrMessageNotFound)
}

func testConcurrentMembership(t *testing.T, s chat.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, room("r", "Room")))

	const users = 20
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddMember(ctx, "r", fmt.Sprintf("user-%02d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Room(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, got.Members, users)
}

func testConcurrentReaders(t *testing.T, s chat.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertMessage(ctx, roomMessage("m", "r", base)))

	const readers = 20
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.AddReader(ctx, "m", fmt.Sprintf("user-%02d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Message(ctx, "m")
	require.NoError(t, err)
	assert.Len(t, got.ReadBy, readers+1)
	assert.Equal(t, "alice", got.ReadBy[0])
}

// Each toggle must report the state it produced, so the reported adds minus
// removes always equals what is stored.
func testConcurrentReactions(t *testing.T, s chat.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertMessage(ctx, roomMessage("m", "r", base)))
	thumbs := chat.Reaction{UserID: "bob", Emoji: "👍"}

	const toggles = 21
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added int
	)
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ToggleReaction(ctx, "m", thumbs)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := s.Message(ctx, "m")
	require.NoError(t, err)
	removed := toggles - added
	assert.Equal(t, added-removed, len(got.Reactions))
	assert.Equal(t, []chat.Reaction{thumbs}, got.Reactions)
}
