package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on SQLite.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			is_online BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			last_seen DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content TEXT NOT NULL,
			kind VARCHAR(10) NOT NULL DEFAULT 'text',
			created_at DATETIME NOT NULL,
			read_at DATETIME DEFAULT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT 0,
			FOREIGN KEY (sender_id) REFERENCES users(id),
			FOREIGN KEY (receiver_id) REFERENCES users(id)
		);`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			participant_lo TEXT NOT NULL,
			participant_hi TEXT NOT NULL,
			last_message_id TEXT,
			last_activity DATETIME NOT NULL,
			unread_lo INTEGER NOT NULL DEFAULT 0,
			unread_hi INTEGER NOT NULL DEFAULT 0,
			UNIQUE (participant_lo, participant_hi),
			FOREIGN KEY (participant_lo) REFERENCES users(id),
			FOREIGN KEY (participant_hi) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);`,
		`CREATE INDEX IF NOT EXISTS idx_users_is_online ON users(is_online);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair_created ON messages(sender_id, receiver_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_participant_lo ON chat_sessions(participant_lo);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_participant_hi ON chat_sessions(participant_hi);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON chat_sessions(last_activity DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
