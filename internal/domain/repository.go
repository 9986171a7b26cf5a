package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	ListOnline(ctx context.Context) ([]*User, error)
	SetOnlineStatus(ctx context.Context, id string, isOnline bool) error
}

// MessageRepository defines persistence operations for direct messages.
type MessageRepository interface {
	// Create persists m, assigning ID and CreatedAt.
	Create(ctx context.Context, m *Message) error
	// GetByID returns the message regardless of its soft-delete flag,
	// or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Message, error)
	// ListBetween returns non-deleted messages between the pair, newest
	// first, paginated by limit/offset.
	ListBetween(ctx context.Context, userA, userB string, limit, offset int) ([]*Message, error)
	// MarkRead stamps read_at on all unread messages sent by otherID to
	// readerID and returns how many rows changed.
	MarkRead(ctx context.Context, readerID, otherID string) (int64, error)
	// SoftDelete flags the message deleted if senderID is its author;
	// ErrNotFound otherwise.
	SoftDelete(ctx context.Context, id, senderID string) error
	// UnreadCount counts non-deleted unread messages addressed to userID.
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// SessionRepository defines persistence operations for the per-pair rollup.
type SessionRepository interface {
	// Touch finds-or-creates the session for the pair, points it at the
	// new message, bumps last_activity (never backwards) and increments
	// the receiver's unread counter. The increment is atomic at the store.
	Touch(ctx context.Context, senderID, receiverID, messageID string, at time.Time) error
	// ResetUnread zeroes userID's unread counter for the pair. No error
	// if the session does not exist yet.
	ResetUnread(ctx context.Context, userID, otherID string) error
	// ListFor returns userID's sessions, most recent activity first; ties
	// order by session id.
	ListFor(ctx context.Context, userID string) ([]*Session, error)
	// GetByParticipants returns the session for the pair, or ErrNotFound.
	GetByParticipants(ctx context.Context, userA, userB string) (*Session, error)
}
