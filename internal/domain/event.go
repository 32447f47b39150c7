package domain

import "time"

// EventType names a realtime event
type EventType string

const (
	EventChat   EventType = "chat"
	EventJoin   EventType = "join"
	EventLeave  EventType = "leave"
	EventRead   EventType = "read"
	EventTyping EventType = "typing"
)

// InboundEvent is a client-originated event for one room
type InboundEvent struct {
	Type        EventType
	RoomID      string
	SenderID    string
	Content     string
	MessageType MessageType
	IsTyping    bool
}

// RoomEvent is published to room subscribers
type RoomEvent struct {
	Type        EventType   `json:"type"`
	RoomID      string      `json:"room_id"`
	MessageID   string      `json:"message_id,omitempty"`
	SenderID    string      `json:"sender_id"`
	SenderName  string      `json:"sender_name,omitempty"`
	MessageType MessageType `json:"message_type,omitempty"`
	Content     string      `json:"content,omitempty"`
	IsTyping    *bool       `json:"is_typing,omitempty"`
	ReadCount   int64       `json:"read_count,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// MessageEvent builds the chat event for a persisted message
func MessageEvent(m *Message) RoomEvent {
	return RoomEvent{
		Type:        EventChat,
		RoomID:      m.RoomID,
		MessageID:   m.ID,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		MessageType: m.Type,
		Content:     m.Content,
		Timestamp:   m.CreatedAt,
	}
}

// RoomChannel is the channel key for chat and presence events of a room
func RoomChannel(roomID string) string {
	return "room:" + roomID
}

// TypingChannel is the channel key for typing notices of a room
func TypingChannel(roomID string) string {
	return "room:" + roomID + ":typing"
}
