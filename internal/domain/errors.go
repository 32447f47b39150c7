package domain

import (
	"errors"
	"fmt"
)

// Validation errors. These are surfaced to the caller and never retried.
var (
	ErrUserNotFound               = errors.New("user not found")
	ErrUserInactive               = errors.New("user is not active")
	ErrHandleExists               = errors.New("handle already exists")
	ErrInvalidHandle              = errors.New("handle must be 3-50 letters, digits, '.', '_' or '-'")
	ErrInvalidDisplayName         = errors.New("display name must be 1-100 characters")
	ErrInvalidStatus              = errors.New("invalid presence status")
	ErrRoomNotFound               = errors.New("chat room not found")
	ErrRoomExists                 = errors.New("an active chat room already exists for this pair")
	ErrNotParticipant             = errors.New("user is not a participant of this chat room")
	ErrSelfPairing                = errors.New("a chat room needs two distinct participants")
	ErrBotCannotOpenRoom          = errors.New("bot users cannot open chat rooms")
	ErrMessageNotFound            = errors.New("message not found")
	ErrEmptyContent               = errors.New("message content is empty")
	ErrMessageTooLong             = errors.New("message content is too long")
	ErrInvalidMessageType         = errors.New("invalid message type")
	ErrSenderCannotReadOwnMessage = errors.New("sender cannot mark their own message as read")
	ErrNotSender                  = errors.New("only the sender can delete this message")
	ErrUnsupportedEvent           = errors.New("unsupported event type")
)

// ErrUnreadDrift marks a stored unread counter that disagrees with message state.
var ErrUnreadDrift = errors.New("unread counter drift")

// UnreadDrift describes one inconsistent counter found by an audit
type UnreadDrift struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Slot     Slot   `json:"slot"`
	Stored   int    `json:"stored"`
	Computed int64  `json:"computed"`
}

func (d UnreadDrift) Error() string {
	return fmt.Sprintf("room %s slot %d (user %s): stored %d, computed %d",
		d.RoomID, d.Slot, d.UserID, d.Stored, d.Computed)
}

func (d UnreadDrift) Unwrap() error {
	return ErrUnreadDrift
}

// IsValidation reports whether err belongs to the caller-facing validation class
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrUserNotFound, ErrUserInactive, ErrHandleExists, ErrInvalidHandle,
		ErrInvalidDisplayName, ErrInvalidStatus,
		ErrRoomNotFound, ErrRoomExists, ErrNotParticipant, ErrSelfPairing,
		ErrBotCannotOpenRoom, ErrMessageNotFound, ErrEmptyContent,
		ErrMessageTooLong, ErrInvalidMessageType, ErrSenderCannotReadOwnMessage,
		ErrNotSender, ErrUnsupportedEvent,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
