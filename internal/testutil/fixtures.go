package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"botchat/internal/domain"

	"github.com/stretchr/testify/require"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// UserOptions allows customizing user fixture creation
type UserOptions struct {
	ID          string
	DisplayName string
	Handle      string
	Kind        domain.UserKind
	Status      domain.PresenceStatus
	Active      bool
}

// NewTestUser creates an active human user with sensible defaults
func NewTestUser(opts ...func(*UserOptions)) *domain.User {
	n := idCounter.Add(1)
	o := &UserOptions{
		ID:          fmt.Sprintf("user-%d", n),
		DisplayName: fmt.Sprintf("Test User %d", n),
		Handle:      fmt.Sprintf("testuser%d", n),
		Kind:        domain.KindHuman,
		Status:      domain.StatusOffline,
		Active:      true,
	}
	for _, opt := range opts {
		opt(o)
	}

	now := time.Now().UTC()
	return &domain.User{
		ID:          o.ID,
		DisplayName: o.DisplayName,
		Handle:      o.Handle,
		Kind:        o.Kind,
		Status:      o.Status,
		Active:      o.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func WithUserID(id string) func(*UserOptions) {
	return func(o *UserOptions) { o.ID = id }
}

func WithDisplayName(name string) func(*UserOptions) {
	return func(o *UserOptions) { o.DisplayName = name }
}

func WithHandle(handle string) func(*UserOptions) {
	return func(o *UserOptions) { o.Handle = handle }
}

// AsBot makes the fixture a bot participant
func AsBot() func(*UserOptions) {
	return func(o *UserOptions) { o.Kind = domain.KindBot }
}

func Inactive() func(*UserOptions) {
	return func(o *UserOptions) { o.Active = false }
}

// NewTestMessage creates a TEXT message with sensible defaults
func NewTestMessage(roomID, senderID, content string) *domain.Message {
	return &domain.Message{
		ID:        nextID("msg"),
		RoomID:    roomID,
		SenderID:  senderID,
		Type:      domain.MessageText,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Seed is a human, a bot and the room pairing them, persisted in a store
type Seed struct {
	Human *domain.User
	Bot   *domain.User
	Room  *domain.ChatRoom
}

// SeedRoom persists a human, a bot and their room
func SeedRoom(t *testing.T, repos *Repositories, humanOpts ...func(*UserOptions)) *Seed {
	t.Helper()
	ctx := context.Background()

	human := NewTestUser(humanOpts...)
	human.ID = ""
	require.NoError(t, repos.Users.Create(ctx, human))

	bot := NewTestUser(AsBot(), WithDisplayName("Assistant"))
	bot.ID = ""
	require.NoError(t, repos.Users.Create(ctx, bot))

	room, err := domain.NewChatRoom(human.ID, bot.ID)
	require.NoError(t, err)
	room, _, err = repos.Rooms.FindOrCreate(ctx, room)
	require.NoError(t, err)

	return &Seed{Human: human, Bot: bot, Room: room}
}

// SeedUser persists one more user
func SeedUser(t *testing.T, repos *Repositories, opts ...func(*UserOptions)) *domain.User {
	t.Helper()
	u := NewTestUser(opts...)
	u.ID = ""
	require.NoError(t, repos.Users.Create(context.Background(), u))
	return u
}

// ResetIDCounter resets the ID counter
func ResetIDCounter() {
	idCounter.Store(0)
}
