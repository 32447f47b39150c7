package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"botchat/internal/domain"
	"botchat/internal/observability"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 32 * 1024

	sendBuffer   = 256
	eventTimeout = 30 * time.Second

	// Inbound events handled concurrently per connection
	maxInFlight = 4

	eventRate  = 5
	eventBurst = 10
)

// EventHandler processes inbound room events
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.InboundEvent) error
}

// Client is one websocket connection bound to a user and a room
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	roomID  string
	handler EventHandler

	limiter  *rate.Limiter
	inFlight chan struct{}
	pending  sync.WaitGroup

	writeMu   sync.Mutex
	closed    atomic.Bool
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// InboundFrame is the JSON frame a client sends
type InboundFrame struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	IsTyping    bool   `json:"is_typing,omitempty"`
}

// ErrorFrame is written back to a client whose event failed
type ErrorFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, userID, roomID string, handler EventHandler) *Client {
	clientCtx, cancel := context.WithCancel(ctx)
	clientCtx = observability.WithRoomID(observability.WithUserID(clientCtx, userID), roomID)

	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		userID:    userID,
		roomID:    roomID,
		handler:   handler,
		limiter:   rate.NewLimiter(rate.Limit(eventRate), eventBurst),
		inFlight:  make(chan struct{}, maxInFlight),
		ctx:       clientCtx,
		ctxCancel: cancel,
	}
}

// channels lists the channel keys this client subscribes to
func (c *Client) channels() []string {
	return []string{domain.RoomChannel(c.roomID), domain.TypingChannel(c.roomID)}
}

// ReadPump reads frames until the connection drops, dispatching each as an event
func (c *Client) ReadPump() {
	defer func() {
		c.pending.Wait()
		c.dispatchSync(domain.InboundEvent{Type: domain.EventLeave})
		c.ctxCancel()
		c.hub.Unregister(c)
		c.closeConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		observability.Warn(c.ctx, "failed to set read deadline", "error", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.dispatchSync(domain.InboundEvent{Type: domain.EventJoin})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.Warn(c.ctx, "websocket error", "error", err)
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			observability.Debug(c.ctx, "invalid frame", "error", err)
			c.writeError("", "invalid frame")
			continue
		}
		observability.WebSocketEventsReceived.WithLabelValues(eventLabel(frame.Type)).Inc()

		if !c.limiter.Allow() {
			c.writeError(frame.Type, "rate limit exceeded")
			continue
		}

		ev := domain.InboundEvent{
			Type:        domain.EventType(frame.Type),
			Content:     frame.Content,
			MessageType: domain.MessageType(frame.MessageType),
			IsTyping:    frame.IsTyping,
		}
		if ev.Type == domain.EventLeave {
			// leave is sent once when the connection closes
			return
		}

		select {
		case c.inFlight <- struct{}{}:
		case <-c.ctx.Done():
			return
		}
		c.pending.Add(1)
		go func() {
			defer func() {
				<-c.inFlight
				c.pending.Done()
			}()
			c.dispatchSync(ev)
		}()
	}
}

func eventLabel(typ string) string {
	switch domain.EventType(typ) {
	case domain.EventChat, domain.EventJoin, domain.EventLeave, domain.EventRead, domain.EventTyping:
		return typ
	}
	return "unknown"
}

// dispatchSync hands one event to the handler and reports failures to the client
func (c *Client) dispatchSync(ev domain.InboundEvent) {
	ev.RoomID = c.roomID
	ev.SenderID = c.userID

	// leave must still go out after the connection context is done
	base := c.ctx
	if ev.Type == domain.EventLeave {
		base = context.WithoutCancel(c.ctx)
	}
	ctx, cancel := context.WithTimeout(base, eventTimeout)
	defer cancel()

	if err := c.handler.HandleEvent(ctx, ev); err != nil {
		if domain.IsValidation(err) {
			observability.Debug(ctx, "event rejected", "type", ev.Type, "error", err)
			c.writeError(string(ev.Type), err.Error())
			return
		}
		observability.Error(ctx, "event failed", "type", ev.Type, "error", err)
		c.writeError(string(ev.Type), "internal error")
	}
}

// writeError writes an error frame directly; the hub owns the send channel
func (c *Client) writeError(event, message string) {
	data, err := json.Marshal(ErrorFrame{Type: "error", Event: event, Message: message})
	if err != nil {
		return
	}
	if err := c.writeMessage(websocket.TextMessage, data); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		slog.Debug("failed to write error frame", slog.String("error", err.Error()))
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				_ = c.writeMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage writes a message to the WebSocket connection in a thread-safe manner
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// closeConnection safely closes the WebSocket connection
func (c *Client) closeConnection() {
	if c.closed.CompareAndSwap(false, true) {
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}
}
