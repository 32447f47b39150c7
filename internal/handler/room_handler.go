package handler

import (
	"net/http"

	"botchat/internal/middleware"
	"botchat/internal/service"

	"github.com/go-chi/chi/v5"
)

// RoomHandler handles chat room endpoints
type RoomHandler struct {
	chat *service.ChatService
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(chat *service.ChatService) *RoomHandler {
	return &RoomHandler{chat: chat}
}

// caller returns the identity set by middleware.Identity
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Missing user identity")
		return "", false
	}
	return userID, true
}

// Create opens (or returns) the caller's room with a dedicated bot
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	room, created, err := h.chat.CreateRoom(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, room)
}

// List returns the caller's rooms, most recent first
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	rooms, err := h.chat.ListRooms(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

// ListUnread returns the caller's rooms that have unread messages
func (h *RoomHandler) ListUnread(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	rooms, err := h.chat.ListUnreadRooms(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

// TotalUnread sums the caller's unread counters
func (h *RoomHandler) TotalUnread(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	total, err := h.chat.TotalUnread(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": total})
}

// Get returns one room the caller participates in
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	room, err := h.chat.GetRoom(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Close deactivates the room for both participants
func (h *RoomHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.chat.CloseRoom(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetUnread clears the caller's unread state in the room
func (h *RoomHandler) ResetUnread(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.chat.ResetUnread(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Budget reports the room's bot budget
func (h *RoomHandler) Budget(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	snapshot, err := h.chat.BudgetSnapshot(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
