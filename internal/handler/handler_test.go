package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"botchat/internal/budget"
	"botchat/internal/completion"
	"botchat/internal/service"
	"botchat/internal/testutil"

	"github.com/go-chi/chi/v5"
)

// apiHarness serves the real router over an in-memory store
type apiHarness struct {
	repos     *testutil.Repositories
	users     *service.UserService
	chat      *service.ChatService
	tracker   *budget.Tracker
	publisher *testutil.RecordingPublisher
	provider  *testutil.StubProvider
	router    chi.Router
	seed      *testutil.Seed
}

func newAPIHarness(t *testing.T, provider *testutil.StubProvider) *apiHarness {
	t.Helper()
	if provider == nil {
		provider = testutil.NewStubProvider("hi", 5)
	}

	repos := testutil.NewRepositories(t)
	directory := service.NewDirectory(repos.Users, 128, time.Minute)
	h := &apiHarness{
		repos:     repos,
		tracker:   budget.NewTracker(2000),
		publisher: testutil.NewRecordingPublisher(),
		provider:  provider,
	}
	h.users = service.NewUserService(repos.Users, directory)
	h.chat = service.NewChatService(repos.Rooms, repos.Messages, h.users, h.tracker, "Assistant")
	var p completion.Provider = provider
	orch := service.NewOrchestrator(repos.Messages, h.chat, directory, h.tracker, p, h.publisher, "You are a helpful assistant.")

	api := &API{
		Users:    NewUserHandler(h.users),
		Rooms:    NewRoomHandler(h.chat),
		Messages: NewMessageHandler(h.chat, orch),
	}
	h.router = chi.NewRouter()
	api.Mount(h.router)

	h.seed = testutil.SeedRoom(t, repos)
	return h
}

// do issues a request as userID (no identity header when empty)
func (h *apiHarness) do(t *testing.T, method, url, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, testutil.NewUserRequest(t, method, url, userID, body))
	return w
}

func roomURL(roomID, suffix string) string {
	return "/api/v1/rooms/" + roomID + suffix
}

func TestMount_RequiresIdentity(t *testing.T) {
	h := newAPIHarness(t, nil)

	w := h.do(t, http.MethodGet, "/api/v1/rooms", "", nil)

	testutil.AssertJSONError(t, w, http.StatusUnauthorized, "Missing user identity")
}
