package domain

import (
	"context"
	"time"
)

// UserKind distinguishes human participants from automated ones
type UserKind string

const (
	KindHuman UserKind = "human"
	KindBot   UserKind = "bot"
)

// PresenceStatus is a user's online presence
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "ONLINE"
	StatusOffline PresenceStatus = "OFFLINE"
	StatusAway    PresenceStatus = "AWAY"
)

// ParsePresenceStatus validates a presence string
func ParsePresenceStatus(s string) (PresenceStatus, error) {
	switch PresenceStatus(s) {
	case StatusOnline, StatusOffline, StatusAway:
		return PresenceStatus(s), nil
	default:
		return "", ErrInvalidStatus
	}
}

// User represents a chat participant
type User struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Handle      string         `json:"handle"`
	Status      PresenceStatus `json:"status"`
	Kind        UserKind       `json:"kind"`
	Active      bool           `json:"active"`
	LastSeenAt  *time.Time     `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsBot reports whether the user is an automated participant
func (u *User) IsBot() bool {
	return u.Kind == KindBot
}

// SetStatus changes presence. ONLINE and AWAY refresh LastSeenAt.
func (u *User) SetStatus(status PresenceStatus, at time.Time) {
	u.Status = status
	if status == StatusOnline || status == StatusAway {
		seen := at
		u.LastSeenAt = &seen
	}
	u.UpdatedAt = at
}

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByHandle(ctx context.Context, handle string) (*User, error)
	List(ctx context.Context, limit, offset int) ([]*User, error)
	Search(ctx context.Context, keyword string, limit int) ([]*User, error)
	UpdateStatus(ctx context.Context, user *User) error
	UpdateProfile(ctx context.Context, user *User) error
	SetActive(ctx context.Context, id string, active bool) error
}
