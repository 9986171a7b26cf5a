package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jobbridge/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, content, kind, created_at, read_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, FALSE)
	`, m.ID, m.SenderID, m.ReceiverID, m.Content, m.Kind, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	m := &domain.Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, sender_id, receiver_id, content, kind, created_at, read_at, is_deleted
		FROM messages WHERE id = $1
	`, id).Scan(
		&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Kind,
		&m.CreatedAt, &m.ReadAt, &m.IsDeleted,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) ListBetween(ctx context.Context, userA, userB string, limit, offset int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, content, kind, created_at, read_at, is_deleted
		FROM messages
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND is_deleted = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, userA, userB, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return scanMessages(rows)
}

func (r *MessageRepo) MarkRead(ctx context.Context, readerID, otherID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET read_at = $1
		WHERE sender_id = $2 AND receiver_id = $3 AND read_at IS NULL AND is_deleted = FALSE
	`, time.Now().UTC(), otherID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id, senderID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_deleted = TRUE
		WHERE id = $1 AND sender_id = $2 AND is_deleted = FALSE
	`, id, senderID)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE receiver_id = $1 AND read_at IS NULL AND is_deleted = FALSE
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func scanMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Kind,
			&m.CreatedAt, &m.ReadAt, &m.IsDeleted,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
