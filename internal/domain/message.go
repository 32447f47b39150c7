package domain

import (
	"context"
	"time"
)

// DeletedPlaceholder replaces the content of a soft-deleted message
const DeletedPlaceholder = "This message has been deleted."

// MaxContentLength bounds message content in characters
const MaxContentLength = 5000

// MessageType classifies message content
type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageImage  MessageType = "IMAGE"
	MessageFile   MessageType = "FILE"
	MessageSystem MessageType = "SYSTEM"
)

// ParseMessageType validates a message type, defaulting empty input to TEXT
func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(s) {
	case "":
		return MessageText, nil
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return MessageType(s), nil
	default:
		return "", ErrInvalidMessageType
	}
}

// Message represents a chat message
type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"room_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name,omitempty"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	Read       bool        `json:"read"`
	ReadAt     *time.Time  `json:"read_at,omitempty"`
	Deleted    bool        `json:"deleted"`
	DeletedAt  *time.Time  `json:"deleted_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	Seq        int64       `json:"-"`
}

// MarkRead flips the read flag once. Later calls leave ReadAt untouched.
func (m *Message) MarkRead(at time.Time) bool {
	if m.Read {
		return false
	}
	readAt := at
	m.Read = true
	m.ReadAt = &readAt
	return true
}

// Delete tombstones the message. Deleting twice is a no-op.
func (m *Message) Delete(at time.Time) bool {
	if m.Deleted {
		return false
	}
	deletedAt := at
	m.Deleted = true
	m.DeletedAt = &deletedAt
	m.Content = DeletedPlaceholder
	return true
}

// Page selects a window of history
type Page struct {
	Number int
	Size   int
}

// Offset returns the row offset for the page
func (p Page) Offset() int {
	return p.Number * p.Size
}

// MessageRepository defines the interface for message data access.
// Append and MarkAllRead also update the owning room in the same transaction.
type MessageRepository interface {
	Append(ctx context.Context, message *Message, recipient Slot) error
	GetByID(ctx context.Context, id string) (*Message, error)
	ListByRoom(ctx context.Context, roomID string, page Page) ([]*Message, error)
	ListSince(ctx context.Context, roomID string, since time.Time, page Page) ([]*Message, error)
	ListUnread(ctx context.Context, roomID, readerID string) ([]*Message, error)
	CountUnread(ctx context.Context, roomID, readerID string) (int64, error)
	MarkRead(ctx context.Context, id string, reader Slot, at time.Time) (*Message, bool, error)
	MarkAllRead(ctx context.Context, roomID, readerID string, reader Slot, at time.Time) (int64, error)
	SoftDelete(ctx context.Context, id string, recipient Slot, at time.Time) (*Message, bool, error)
}
