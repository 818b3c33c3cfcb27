// Package db provides SQLite persistence for the opsdesk reference backend.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/tOgg1/opsdesk/internal/logging"
)

// DB wraps a SQLite connection pool.
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

// Open creates or opens the database at path and applies pending
// migrations. An empty path or ":memory:" opens a private in-memory
// database.
func Open(path string) (*DB, error) {
	path = strings.TrimSpace(path)
	memory := path == "" || path == ":memory:"
	dsn := path
	if memory {
		dsn = ":memory:"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dsn, err)
	}
	// One connection: an in-memory database exists per connection, and
	// SQLite serializes writers anyway.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, logger: logging.Component("db")}

	if !memory {
		if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.logger.Warn().Err(err).Msg("WAL unavailable; using default journal")
		}
		if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := db.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Transaction runs fn inside a transaction, committing on success.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "users_channels_members",
		sql: `
CREATE TABLE users (
    id INTEGER PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE channels (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL CHECK(kind IN ('group', 'department', 'direct', 'task-mirror')),
    archived INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE channel_members (
    channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
    user_id INTEGER NOT NULL,
    PRIMARY KEY (channel_id, user_id)
);
CREATE INDEX idx_channel_members_user ON channel_members(user_id);
`,
	},
	{
		name: "messages",
		sql: `
CREATE TABLE messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
    client_id TEXT NOT NULL DEFAULT '',
    sender_id INTEGER,
    content TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    edited_at INTEGER,
    attachments_json TEXT,
    reply_to_id TEXT NOT NULL DEFAULT '',
    linked_task_id INTEGER NOT NULL DEFAULT 0,
    priority TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    metadata_json TEXT
);
CREATE INDEX idx_messages_channel_time ON messages(channel_id, created_at, id);
`,
	},
	{
		name: "tasks",
		sql: `
CREATE TABLE tasks (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('todo', 'in_progress', 'blocked', 'done')),
    priority TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for i, m := range migrations {
		version := i + 1
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		db.logger.Debug().Int("version", version).Str("name", m.name).Msg("applying migration")
		err := db.Transaction(context.Background(), func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.sql); err != nil {
				return err
			}
			_, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", version, m.name, err)
		}
	}
	return nil
}
