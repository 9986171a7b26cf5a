package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// Users (provisioned by the main app backend; mirrored here)
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT         PRIMARY KEY,
			username   VARCHAR(50)  UNIQUE NOT NULL,
			is_active  BOOLEAN      NOT NULL DEFAULT TRUE,
			is_online  BOOLEAN      NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_seen  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// Direct messages
		`CREATE TABLE IF NOT EXISTS messages (
			id          TEXT        PRIMARY KEY,
			sender_id   TEXT        NOT NULL REFERENCES users(id),
			receiver_id TEXT        NOT NULL REFERENCES users(id),
			content     TEXT        NOT NULL,
			kind        VARCHAR(10) NOT NULL DEFAULT 'text',
			created_at  TIMESTAMPTZ NOT NULL,
			read_at     TIMESTAMPTZ,
			is_deleted  BOOLEAN     NOT NULL DEFAULT FALSE
		)`,

		// Per-pair rollup; participants stored sorted so each unordered
		// pair maps to exactly one row
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id              TEXT        PRIMARY KEY,
			participant_lo  TEXT        NOT NULL REFERENCES users(id),
			participant_hi  TEXT        NOT NULL REFERENCES users(id),
			last_message_id TEXT,
			last_activity   TIMESTAMPTZ NOT NULL,
			unread_lo       INTEGER     NOT NULL DEFAULT 0,
			unread_hi       INTEGER     NOT NULL DEFAULT 0,
			UNIQUE (participant_lo, participant_hi)
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair_created
			ON messages(sender_id, receiver_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread
			ON messages(receiver_id) WHERE read_at IS NULL AND is_deleted = FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_participant_lo ON chat_sessions(participant_lo)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_participant_hi ON chat_sessions(participant_hi)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON chat_sessions(last_activity DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
