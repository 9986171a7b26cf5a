package domain

import "time"

// Message kinds accepted by the chat core.
const (
	KindText  = "text"
	KindImage = "image"
	KindFile  = "file"
)

// ValidKind reports whether kind is one of the supported message kinds.
func ValidKind(kind string) bool {
	switch kind {
	case KindText, KindImage, KindFile:
		return true
	}
	return false
}

// User represents an application user. Accounts are provisioned by the main
// application backend; this service only reads them and flips presence flags.
type User struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	IsOnline  bool      `db:"is_online" json:"is_online"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	LastSeen  time.Time `db:"last_seen" json:"last_seen"`
}

// Message represents a single direct message between two users.
type Message struct {
	ID         string     `db:"id"`
	SenderID   string     `db:"sender_id"`
	ReceiverID string     `db:"receiver_id"`
	Content    string     `db:"content"` // encrypted at rest
	Kind       string     `db:"kind"`
	CreatedAt  time.Time  `db:"created_at"`
	ReadAt     *time.Time `db:"read_at"`
	IsDeleted  bool       `db:"is_deleted"`
}

// IsRead reports whether the message has been read by its receiver.
func (m *Message) IsRead() bool {
	return m.ReadAt != nil
}

// Session is the per-pair conversation rollup: the most recent message, the
// last activity time and the per-participant unread counters. Exactly one
// session exists per unordered user pair; participants are stored sorted.
type Session struct {
	ID            string
	Participants  [2]string // sorted, Participants[0] < Participants[1]
	LastMessageID *string
	LastActivity  time.Time
	UnreadCounts  map[string]int
}

// Other returns the participant that is not userID.
func (s *Session) Other(userID string) string {
	if s.Participants[0] == userID {
		return s.Participants[1]
	}
	return s.Participants[0]
}

// PairKey normalizes two user ids into the canonical sorted pair used as the
// session identity. Callers must not pass equal ids.
func PairKey(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}
