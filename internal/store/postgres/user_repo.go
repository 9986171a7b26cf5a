package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobbridge/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.LastSeen.IsZero() {
		u.LastSeen = now
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, is_active, is_online, created_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Username, u.IsActive, u.IsOnline, u.CreatedAt, u.LastSeen)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "UNIQUE") {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getBy(ctx, "username", username)
}

func (r *UserRepo) getBy(ctx context.Context, column, value string) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, username, is_active, is_online, created_at, last_seen
		FROM users WHERE %s = $1
	`, column), value).Scan(
		&u.ID, &u.Username, &u.IsActive, &u.IsOnline, &u.CreatedAt, &u.LastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}
	return u, nil
}

func (r *UserRepo) ListOnline(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, username, is_active, is_online, created_at, last_seen
		FROM users WHERE is_online = TRUE AND is_active = TRUE
		ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	defer rows.Close()

	var res []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.IsActive, &u.IsOnline, &u.CreatedAt, &u.LastSeen); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r *UserRepo) SetOnlineStatus(ctx context.Context, id string, isOnline bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET is_online = $1, last_seen = $2 WHERE id = $3
	`, isOnline, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set online status: %w", err)
	}
	return nil
}
