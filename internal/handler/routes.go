package handler

import (
	"net/http"

	"botchat/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// API groups the REST and websocket handlers
type API struct {
	Users     *UserHandler
	Rooms     *RoomHandler
	Messages  *MessageHandler
	WebSocket *WebSocketHandler
}

// Mount registers /api/v1 and /ws on r. Every route except user
// registration requires an identity.
func (a *API) Mount(r chi.Router, limiters ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiters...)

		r.Post("/users", a.Users.Create)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Identity())

			r.Get("/users", a.Users.List)
			r.Get("/users/search", a.Users.Search)
			r.Get("/users/{id}", a.Users.Get)
			r.Patch("/users/{id}/status", a.Users.UpdateStatus)
			r.Patch("/users/{id}/profile", a.Users.UpdateProfile)
			r.Delete("/users/{id}", a.Users.Deactivate)

			r.Post("/rooms", a.Rooms.Create)
			r.Get("/rooms", a.Rooms.List)
			r.Get("/rooms/unread", a.Rooms.ListUnread)
			r.Get("/rooms/unread-count", a.Rooms.TotalUnread)
			r.Get("/rooms/{id}", a.Rooms.Get)
			r.Delete("/rooms/{id}", a.Rooms.Close)
			r.Patch("/rooms/{id}/read", a.Rooms.ResetUnread)
			r.Get("/rooms/{id}/budget", a.Rooms.Budget)

			r.Get("/rooms/{id}/messages", a.Messages.List)
			r.Post("/rooms/{id}/messages", a.Messages.Send)
			r.Get("/rooms/{id}/messages/unread", a.Messages.ListUnread)
			r.Get("/rooms/{id}/messages/unread-count", a.Messages.CountUnread)
			r.Patch("/rooms/{id}/messages/read-all", a.Messages.MarkAllRead)
			r.Patch("/messages/{id}/read", a.Messages.MarkRead)
			r.Delete("/messages/{id}", a.Messages.Delete)
		})
	})

	if a.WebSocket != nil {
		r.With(middleware.Identity()).Get("/ws/rooms/{room_id}", a.WebSocket.HandleConnection)
	}
}
