package handler

import (
	"context"
	"net/http"

	"botchat/internal/middleware"
	"botchat/internal/observability"
	"botchat/internal/service"
	ws "botchat/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades room connections and attaches them to the hub
type WebSocketHandler struct {
	ctx      context.Context
	hub      *ws.Hub
	chat     *service.ChatService
	events   ws.EventHandler
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. Connections live until
// ctx is cancelled or the peer goes away.
func NewWebSocketHandler(ctx context.Context, hub *ws.Hub, chat *service.ChatService, events ws.EventHandler, allowedOrigins string) *WebSocketHandler {
	origins := middleware.ParseOrigins(allowedOrigins)
	return &WebSocketHandler{
		ctx:    ctx,
		hub:    hub,
		chat:   chat,
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// non-browser clients send no Origin
				return origin == "" || middleware.OriginAllowed(origins, origin)
			},
		},
	}
}

// HandleConnection handles WebSocket upgrade and connection
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	roomID := chi.URLParam(r, "room_id")
	if roomID == "" {
		writeMessage(w, http.StatusBadRequest, "Room ID required")
		return
	}

	if _, err := h.chat.GetRoom(r.Context(), roomID, userID); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := ws.NewClient(h.ctx, h.hub, conn, userID, roomID, h.events)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
