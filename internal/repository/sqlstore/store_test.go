package sqlstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"botchat/internal/domain"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a private in-memory SQLite database with the schema applied
func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := New(context.Background(), db, DriverSQLite)
	require.NoError(t, err)
	return s
}

// steppingClock returns strictly increasing times one millisecond apart
func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}
}

func createUser(t *testing.T, repo *UserRepository, handle string, kind domain.UserKind) *domain.User {
	t.Helper()
	u := &domain.User{DisplayName: handle, Handle: handle, Kind: kind}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

type fixture struct {
	store    *Store
	users    *UserRepository
	rooms    *ChatRoomRepository
	messages *MessageRepository
	human    *domain.User
	bot      *domain.User
	room     *domain.ChatRoom
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := newTestStore(t)
	f := &fixture{
		store:    s,
		users:    NewUserRepository(s),
		rooms:    NewChatRoomRepository(s),
		messages: NewMessageRepository(s),
	}
	f.human = createUser(t, f.users, "alice", domain.KindHuman)
	f.bot = createUser(t, f.users, "bot-alice", domain.KindBot)

	room, err := domain.NewChatRoom(f.human.ID, f.bot.ID)
	require.NoError(t, err)
	f.room, _, err = f.rooms.FindOrCreate(context.Background(), room)
	require.NoError(t, err)
	return f
}

// send appends a message the way the chat service does
func (f *fixture) send(t *testing.T, senderID, content string) *domain.Message {
	t.Helper()
	slot, err := f.room.SlotOf(senderID)
	require.NoError(t, err)
	msg := &domain.Message{RoomID: f.room.ID, SenderID: senderID, Type: domain.MessageText, Content: content}
	require.NoError(t, f.messages.Append(context.Background(), msg, slot.Other()))
	return msg
}

func (f *fixture) reload(t *testing.T) *domain.ChatRoom {
	t.Helper()
	room, err := f.rooms.GetByID(context.Background(), f.room.ID)
	require.NoError(t, err)
	return room
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := newStore(nil, "mysql")
	require.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}
