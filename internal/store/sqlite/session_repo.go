package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jobbridge/internal/domain"
)

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

var _ domain.SessionRepository = (*SessionRepo)(nil)

// Touch upserts the rollup row for the pair in one statement so the unread
// increment stays atomic at the store even when two sends race. last_activity
// never moves backwards.
func (r *SessionRepo) Touch(ctx context.Context, senderID, receiverID, messageID string, at time.Time) error {
	lo, hi := domain.PairKey(senderID, receiverID)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_sessions
			(id, participant_lo, participant_hi, last_message_id, last_activity, unread_lo, unread_hi)
		VALUES (?, ?, ?, ?, ?,
			CASE WHEN ? = ? THEN 1 ELSE 0 END,
			CASE WHEN ? = ? THEN 1 ELSE 0 END)
		ON CONFLICT (participant_lo, participant_hi) DO UPDATE SET
			last_message_id = excluded.last_message_id,
			last_activity   = MAX(last_activity, excluded.last_activity),
			unread_lo       = unread_lo + excluded.unread_lo,
			unread_hi       = unread_hi + excluded.unread_hi
	`, uuid.NewString(), lo, hi, messageID, at.UTC(),
		receiverID, lo,
		receiverID, hi)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (r *SessionRepo) ResetUnread(ctx context.Context, userID, otherID string) error {
	lo, hi := domain.PairKey(userID, otherID)
	_, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions SET
			unread_lo = CASE WHEN participant_lo = ? THEN 0 ELSE unread_lo END,
			unread_hi = CASE WHEN participant_hi = ? THEN 0 ELSE unread_hi END
		WHERE participant_lo = ? AND participant_hi = ?
	`, userID, userID, lo, hi)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

func (r *SessionRepo) ListFor(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, participant_lo, participant_hi, last_message_id, last_activity, unread_lo, unread_hi
		FROM chat_sessions
		WHERE participant_lo = ? OR participant_hi = ?
		ORDER BY last_activity DESC, id ASC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return scanSessions(rows)
}

func (r *SessionRepo) GetByParticipants(ctx context.Context, userA, userB string) (*domain.Session, error) {
	lo, hi := domain.PairKey(userA, userB)
	row := r.db.QueryRowContext(ctx, `
		SELECT id, participant_lo, participant_hi, last_message_id, last_activity, unread_lo, unread_hi
		FROM chat_sessions
		WHERE participant_lo = ? AND participant_hi = ?
	`, lo, hi)
	s, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func scanSession(scan func(dest ...any) error) (*domain.Session, error) {
	s := &domain.Session{}
	var lastMsg sql.NullString
	var unreadLo, unreadHi int
	if err := scan(
		&s.ID, &s.Participants[0], &s.Participants[1],
		&lastMsg, &s.LastActivity, &unreadLo, &unreadHi,
	); err != nil {
		return nil, err
	}
	if lastMsg.Valid {
		s.LastMessageID = &lastMsg.String
	}
	s.UnreadCounts = map[string]int{
		s.Participants[0]: unreadLo,
		s.Participants[1]: unreadHi,
	}
	return s, nil
}

func scanSessions(rows *sql.Rows) ([]*domain.Session, error) {
	defer rows.Close()
	var res []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
