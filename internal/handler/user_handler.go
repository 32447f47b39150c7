package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"botchat/internal/middleware"
	"botchat/internal/service"

	"github.com/go-chi/chi/v5"
)

// UserHandler handles user directory endpoints
type UserHandler struct {
	users *service.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// CreateUserRequest represents user creation request
type CreateUserRequest struct {
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
}

// UpdateStatusRequest represents a presence change
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateProfileRequest represents a profile change
type UpdateProfileRequest struct {
	DisplayName string `json:"display_name"`
}

// queryInt reads an integer query parameter, falling back to def when absent or malformed
func queryInt(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}

// Create registers a human user
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.DisplayName, req.Handle)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// List pages through active users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context(), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// Search matches display names and handles
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.Search(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// Get returns one user
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// self rejects requests that act on another user's account
func self(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID, _ := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	if id != callerID {
		writeMessage(w, http.StatusForbidden, "Cannot modify another user")
		return "", false
	}
	return id, true
}

// UpdateStatus changes the caller's presence
func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := self(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile changes the caller's display name
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := self(w, r)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), id, req.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Deactivate closes the caller's account
func (h *UserHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := self(w, r)
	if !ok {
		return
	}

	if err := h.users.Deactivate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
