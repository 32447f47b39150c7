package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"botchat/internal/budget"
	"botchat/internal/completion"
	"botchat/internal/domain"
	"botchat/internal/testutil"

	"github.com/stretchr/testify/require"
)

const testPersona = "You are a helpful assistant."

// harness wires the services over an in-memory store
type harness struct {
	repos     *testutil.Repositories
	users     *UserService
	directory *Directory
	chat      *ChatService
	tracker   *budget.Tracker
	publisher *testutil.RecordingPublisher
	orch      *Orchestrator
	seed      *testutil.Seed
}

func newHarness(t *testing.T, provider completion.Provider, limit int64) *harness {
	t.Helper()
	repos := testutil.NewRepositories(t)
	h := &harness{
		repos:     repos,
		directory: NewDirectory(repos.Users, 128, time.Minute),
		tracker:   budget.NewTracker(limit),
		publisher: testutil.NewRecordingPublisher(),
	}
	h.users = NewUserService(repos.Users, h.directory)
	h.chat = NewChatService(repos.Rooms, repos.Messages, h.users, h.tracker, "Assistant")
	h.orch = NewOrchestrator(repos.Messages, h.chat, h.directory, h.tracker, provider, h.publisher, testPersona)
	h.seed = testutil.SeedRoom(t, repos)
	return h
}

// corruptUnread overwrites the seeded room's counter behind the services' back
func (h *harness) corruptUnread(t *testing.T, slot domain.Slot, n int) {
	t.Helper()
	_, err := h.repos.Store.DB().ExecContext(context.Background(),
		fmt.Sprintf("UPDATE chat_rooms SET user%d_unread = ? WHERE id = ?", slot), n, h.seed.Room.ID)
	require.NoError(t, err)
}
