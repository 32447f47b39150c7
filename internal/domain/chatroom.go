package domain

import (
	"context"
	"time"
)

// Slot identifies one of the two participant positions of a room
type Slot int

const (
	Slot1 Slot = 1
	Slot2 Slot = 2
)

// ChatRoom is a two-party conversation. Participants are stored in canonical
// order: the smaller id always occupies slot 1.
type ChatRoom struct {
	ID            string     `json:"id"`
	User1ID       string     `json:"user1_id"`
	User2ID       string     `json:"user2_id"`
	LastMessage   string     `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	User1Unread   int        `json:"user1_unread"`
	User2Unread   int        `json:"user2_unread"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewChatRoom pairs two users in canonical order
func NewChatRoom(userA, userB string) (*ChatRoom, error) {
	if userA == userB {
		return nil, ErrSelfPairing
	}
	u1, u2 := CanonicalPair(userA, userB)
	return &ChatRoom{
		User1ID: u1,
		User2ID: u2,
		Active:  true,
	}, nil
}

// CanonicalPair orders two ids ascending
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// IsParticipant reports whether userID occupies either slot
func (r *ChatRoom) IsParticipant(userID string) bool {
	return userID == r.User1ID || userID == r.User2ID
}

// SlotOf returns the slot held by userID
func (r *ChatRoom) SlotOf(userID string) (Slot, error) {
	switch userID {
	case r.User1ID:
		return Slot1, nil
	case r.User2ID:
		return Slot2, nil
	default:
		return 0, ErrNotParticipant
	}
}

// ParticipantAt returns the user id in the given slot
func (r *ChatRoom) ParticipantAt(slot Slot) string {
	if slot == Slot1 {
		return r.User1ID
	}
	return r.User2ID
}

// OtherParticipant returns the counterpart of userID
func (r *ChatRoom) OtherParticipant(userID string) (string, error) {
	slot, err := r.SlotOf(userID)
	if err != nil {
		return "", err
	}
	return r.ParticipantAt(slot.Other()), nil
}

// UnreadFor returns the unread counter of userID's slot
func (r *ChatRoom) UnreadFor(userID string) (int, error) {
	slot, err := r.SlotOf(userID)
	if err != nil {
		return 0, err
	}
	return r.UnreadAt(slot), nil
}

// UnreadAt returns the counter stored for slot
func (r *ChatRoom) UnreadAt(slot Slot) int {
	if slot == Slot1 {
		return r.User1Unread
	}
	return r.User2Unread
}

// RecordOutboundMessage updates the last-message summary and credits the
// recipient's unread counter. It returns the recipient slot.
func (r *ChatRoom) RecordOutboundMessage(senderID, text string, at time.Time) (Slot, error) {
	slot, err := r.SlotOf(senderID)
	if err != nil {
		return 0, err
	}
	recipient := slot.Other()
	if recipient == Slot1 {
		r.User1Unread++
	} else {
		r.User2Unread++
	}
	sent := at
	r.LastMessage = text
	r.LastMessageAt = &sent
	r.UpdatedAt = at
	return recipient, nil
}

// ResetUnread zeroes the caller's own counter
func (r *ChatRoom) ResetUnread(userID string) (Slot, error) {
	slot, err := r.SlotOf(userID)
	if err != nil {
		return 0, err
	}
	if slot == Slot1 {
		r.User1Unread = 0
	} else {
		r.User2Unread = 0
	}
	return slot, nil
}

// Other returns the opposite slot
func (s Slot) Other() Slot {
	if s == Slot1 {
		return Slot2
	}
	return Slot1
}

// ChatRoomRepository defines the interface for chat room data access
type ChatRoomRepository interface {
	// FindOrCreate returns the active room for room's pair, inserting room when none exists.
	FindOrCreate(ctx context.Context, room *ChatRoom) (*ChatRoom, bool, error)
	FindByParticipants(ctx context.Context, userA, userB string) (*ChatRoom, error)
	GetByID(ctx context.Context, id string) (*ChatRoom, error)
	ListByParticipant(ctx context.Context, userID string) ([]*ChatRoom, error)
	ListWithUnread(ctx context.Context, userID string) ([]*ChatRoom, error)
	ListActive(ctx context.Context) ([]*ChatRoom, error)
	TotalUnread(ctx context.Context, userID string) (int64, error)
	ReconcileUnread(ctx context.Context, roomID string, slot Slot, repair bool) (*UnreadDrift, error)
	Deactivate(ctx context.Context, id string) error
}
