package sqlstore

import (
	"context"
	"sync"
	"testing"

	"botchat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRoomRepository_FindOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates_then_finds_by_unordered_pair", func(t *testing.T) {
		f := newFixture(t)

		reversed, err := domain.NewChatRoom(f.bot.ID, f.human.ID)
		require.NoError(t, err)

		got, created, err := f.rooms.FindOrCreate(ctx, reversed)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, f.room.ID, got.ID)

		byPair, err := f.rooms.FindByParticipants(ctx, f.bot.ID, f.human.ID)
		require.NoError(t, err)
		assert.Equal(t, f.room.ID, byPair.ID)
	})

	t.Run("concurrent_creates_yield_one_room", func(t *testing.T) {
		s := newTestStore(t)
		users := NewUserRepository(s)
		rooms := NewChatRoomRepository(s)
		a := createUser(t, users, "a", domain.KindHuman)
		b := createUser(t, users, "b", domain.KindBot)

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			ids = map[string]int{}
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				room, _ := domain.NewChatRoom(a.ID, b.ID)
				got, _, err := rooms.FindOrCreate(ctx, room)
				if assert.NoError(t, err) {
					mu.Lock()
					ids[got.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Len(t, ids, 1)
	})

	t.Run("deactivated_pair_can_be_reopened", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.rooms.Deactivate(ctx, f.room.ID))

		_, err := f.rooms.GetByID(ctx, f.room.ID)
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)

		room, _ := domain.NewChatRoom(f.human.ID, f.bot.ID)
		got, created, err := f.rooms.FindOrCreate(ctx, room)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, f.room.ID, got.ID)
	})
}

func TestChatRoomRepository_Listing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	other := createUser(t, f.users, "bot-2", domain.KindBot)
	second, _ := domain.NewChatRoom(f.human.ID, other.ID)
	second, _, err := f.rooms.FindOrCreate(ctx, second)
	require.NoError(t, err)

	// A message in the first room makes it the most recently updated
	f.store.SetClock(steppingClock(second.UpdatedAt))
	f.send(t, f.bot.ID, "hello")

	rooms, err := f.rooms.ListByParticipant(ctx, f.human.ID)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, f.room.ID, rooms[0].ID)
	assert.Equal(t, second.ID, rooms[1].ID)

	withUnread, err := f.rooms.ListWithUnread(ctx, f.human.ID)
	require.NoError(t, err)
	require.Len(t, withUnread, 1)
	assert.Equal(t, f.room.ID, withUnread[0].ID)

	none, err := f.rooms.ListWithUnread(ctx, f.bot.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	total, err := f.rooms.TotalUnread(ctx, f.human.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	total, err = f.rooms.TotalUnread(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	active, err := f.rooms.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

// setStoredUnread overwrites a counter without touching messages
func (f *fixture) setStoredUnread(t *testing.T, slot domain.Slot, n int) {
	t.Helper()
	_, err := f.store.DB().ExecContext(context.Background(),
		"UPDATE chat_rooms SET "+unreadColumn(slot)+" = ? WHERE id = ?", n, f.room.ID)
	require.NoError(t, err)
}

func TestChatRoomRepository_ReconcileUnread(t *testing.T) {
	ctx := context.Background()

	t.Run("consistent_counter", func(t *testing.T) {
		f := newFixture(t)
		humanSlot, _ := f.room.SlotOf(f.human.ID)
		f.send(t, f.bot.ID, "one")

		drift, err := f.rooms.ReconcileUnread(ctx, f.room.ID, humanSlot, true)
		require.NoError(t, err)
		assert.Nil(t, drift)
		assert.Equal(t, 1, f.reload(t).UnreadAt(humanSlot))
	})

	t.Run("reports_without_writing", func(t *testing.T) {
		f := newFixture(t)
		humanSlot, _ := f.room.SlotOf(f.human.ID)
		f.send(t, f.bot.ID, "one")
		f.send(t, f.bot.ID, "two")
		f.setStoredUnread(t, humanSlot, 5)

		drift, err := f.rooms.ReconcileUnread(ctx, f.room.ID, humanSlot, false)
		require.NoError(t, err)
		require.NotNil(t, drift)
		assert.Equal(t, f.human.ID, drift.UserID)
		assert.Equal(t, humanSlot, drift.Slot)
		assert.Equal(t, 5, drift.Stored)
		assert.Equal(t, int64(2), drift.Computed)
		assert.Equal(t, 5, f.reload(t).UnreadAt(humanSlot))
	})

	t.Run("repair_then_append_keeps_both", func(t *testing.T) {
		f := newFixture(t)
		humanSlot, _ := f.room.SlotOf(f.human.ID)
		f.send(t, f.bot.ID, "one")
		f.setStoredUnread(t, humanSlot, 5)

		drift, err := f.rooms.ReconcileUnread(ctx, f.room.ID, humanSlot, true)
		require.NoError(t, err)
		require.NotNil(t, drift)
		assert.Equal(t, int64(1), drift.Computed)
		assert.Equal(t, 1, f.reload(t).UnreadAt(humanSlot))

		f.send(t, f.bot.ID, "two")
		assert.Equal(t, 2, f.reload(t).UnreadAt(humanSlot))

		drift, err = f.rooms.ReconcileUnread(ctx, f.room.ID, humanSlot, false)
		require.NoError(t, err)
		assert.Nil(t, drift)
	})

	t.Run("concurrent_appends_survive_repair", func(t *testing.T) {
		f := newFixture(t)
		humanSlot, _ := f.room.SlotOf(f.human.ID)
		f.setStoredUnread(t, humanSlot, 50)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				msg := &domain.Message{RoomID: f.room.ID, SenderID: f.bot.ID, Type: domain.MessageText, Content: "hi"}
				assert.NoError(t, f.messages.Append(ctx, msg, humanSlot))
			}()
			go func() {
				defer wg.Done()
				_, err := f.rooms.ReconcileUnread(ctx, f.room.ID, humanSlot, true)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		drift, err := f.rooms.ReconcileUnread(ctx, f.room.ID, humanSlot, false)
		require.NoError(t, err)
		assert.Nil(t, drift)
		assert.Equal(t, 10, f.reload(t).UnreadAt(humanSlot))
	})

	t.Run("missing_or_closed_room", func(t *testing.T) {
		f := newFixture(t)
		humanSlot, _ := f.room.SlotOf(f.human.ID)

		_, err := f.rooms.ReconcileUnread(ctx, "missing", humanSlot, true)
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)

		require.NoError(t, f.rooms.Deactivate(ctx, f.room.ID))
		_, err = f.rooms.ReconcileUnread(ctx, f.room.ID, humanSlot, true)
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	})
}
