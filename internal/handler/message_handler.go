package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"botchat/internal/domain"
	"botchat/internal/service"

	"github.com/go-chi/chi/v5"
)

// MessageHandler handles message endpoints
type MessageHandler struct {
	chat *service.ChatService
	orch *service.Orchestrator
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(chat *service.ChatService, orch *service.Orchestrator) *MessageHandler {
	return &MessageHandler{chat: chat, orch: orch}
}

// SendMessageRequest represents a REST send
type SendMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// List returns history newest first, or everything after ?since= oldest first
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	roomID := chi.URLParam(r, "id")
	page := domain.Page{Number: queryInt(r, "page", 0), Size: queryInt(r, "size", 0)}

	var (
		messages []*domain.Message
		err      error
	)
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			writeMessage(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		messages, err = h.chat.GetMessagesSince(r.Context(), roomID, userID, since, page)
	} else {
		messages, err = h.chat.GetMessages(r.Context(), roomID, userID, page)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// Send runs the full send pipeline, including the bot reply
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := h.orch.SendMessage(r.Context(), service.SendRequest{
		RoomID:      chi.URLParam(r, "id"),
		SenderID:    userID,
		Content:     req.Content,
		MessageType: req.MessageType,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ListUnread returns the caller's unread messages, oldest first
func (h *MessageHandler) ListUnread(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	messages, err := h.chat.GetUnreadMessages(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// CountUnread counts the caller's unread messages in the room
func (h *MessageHandler) CountUnread(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	count, err := h.chat.CountUnread(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": count})
}

// MarkAllRead marks everything the caller received in the room as read
func (h *MessageHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	marked, err := h.chat.MarkAllRead(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": marked})
}

// MarkRead marks one received message as read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	msg, err := h.chat.MarkRead(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// Delete tombstones one of the caller's messages
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	msg, err := h.chat.DeleteMessage(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
