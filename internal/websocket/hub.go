package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"botchat/internal/domain"
	"botchat/internal/observability"
)

// ErrHubClosed is returned when delivering to a hub that has shut down
var ErrHubClosed = errors.New("hub closed")

// PresenceHook is notified when a user's first connection opens or last one closes
type PresenceHook func(userID string, online bool)

type delivery struct {
	channelKey string
	data       []byte
}

type countQuery struct {
	channelKey string
	reply      chan int
}

// Hub is the process-local fan-out: clients subscribe to channel keys and
// receive every payload delivered on them.
type Hub struct {
	// Subscribers by channel key
	clients map[string]map[*Client]bool

	// Every registered client, so its send channel is closed exactly once
	members map[*Client]bool

	// Open connections per user
	connections map[string]int

	broadcast  chan *delivery
	register   chan *Client
	unregister chan *Client
	count      chan countQuery

	presence PresenceHook

	done chan struct{}
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		members:     make(map[*Client]bool),
		connections: make(map[string]int),
		broadcast:   make(chan *delivery, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		count:       make(chan countQuery),
		done:        make(chan struct{}),
	}
}

// SetPresenceHook installs the presence callback. Call before Run.
func (h *Hub) SetPresenceHook(hook PresenceHook) {
	h.presence = hook
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("hub shutting down gracefully")
			return ctx.Err()

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client)

		case d := <-h.broadcast:
			for client := range h.clients[d.channelKey] {
				select {
				case client.send <- d.data:
				default:
					observability.FanoutDroppedClients.Inc()
					slog.Warn("dropping slow client",
						slog.String("user_id", client.userID),
						slog.String("channel", d.channelKey))
					h.remove(client)
				}
			}

		case q := <-h.count:
			q.reply <- len(h.clients[q.channelKey])
		}
	}
}

func (h *Hub) add(client *Client) {
	if h.members[client] {
		return
	}
	h.members[client] = true
	for _, key := range client.channels() {
		if h.clients[key] == nil {
			h.clients[key] = make(map[*Client]bool)
		}
		h.clients[key][client] = true
	}

	h.connections[client.userID]++
	if h.connections[client.userID] == 1 {
		h.notifyPresence(client.userID, true)
	}

	observability.WebSocketConnectionsActive.Inc()
	slog.Info("client registered",
		slog.String("user_id", client.userID),
		slog.String("room_id", client.roomID))
}

// remove detaches a client from every channel and closes its send channel
func (h *Hub) remove(client *Client) {
	if !h.members[client] {
		return
	}
	delete(h.members, client)
	for _, key := range client.channels() {
		if subs, ok := h.clients[key]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.clients, key)
			}
		}
	}
	close(client.send)

	h.connections[client.userID]--
	if h.connections[client.userID] <= 0 {
		delete(h.connections, client.userID)
		h.notifyPresence(client.userID, false)
	}

	observability.WebSocketConnectionsActive.Dec()
	slog.Info("client unregistered",
		slog.String("user_id", client.userID),
		slog.String("room_id", client.roomID))
}

func (h *Hub) notifyPresence(userID string, online bool) {
	if h.presence == nil {
		return
	}
	go h.presence(userID, online)
}

// shutdown performs graceful cleanup of all connections
func (h *Hub) shutdown() {
	close(h.done)

	for client := range h.members {
		close(client.send)
		observability.WebSocketConnectionsActive.Dec()
	}
	h.members = make(map[*Client]bool)
	h.clients = make(map[string]map[*Client]bool)

	slog.Info("hub shutdown complete")
}

// Publish marshals the event and delivers it to local subscribers of channelKey
func (h *Hub) Publish(ctx context.Context, channelKey string, event domain.RoomEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		observability.FanoutPublishedTotal.WithLabelValues("local", "error").Inc()
		return fmt.Errorf("marshal room event: %w", err)
	}
	if err := h.Deliver(channelKey, data); err != nil {
		observability.FanoutPublishedTotal.WithLabelValues("local", "error").Inc()
		return err
	}
	observability.FanoutPublishedTotal.WithLabelValues("local", "ok").Inc()
	return nil
}

// Deliver fans raw bytes out to local subscribers of channelKey
func (h *Hub) Deliver(channelKey string, data []byte) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.broadcast <- &delivery{channelKey: channelKey, data: data}:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Connected reports how many clients are subscribed to channelKey
func (h *Hub) Connected(channelKey string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countQuery{channelKey: channelKey, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Register registers a client with the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Ping reports whether the hub loop is still running
func (h *Hub) Ping(_ context.Context) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
		return nil
	}
}
