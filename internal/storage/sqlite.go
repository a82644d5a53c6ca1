package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			record_version INTEGER NOT NULL DEFAULT 1,
			target_event_id TEXT NOT NULL,
			target_event TEXT NOT NULL,
			interval_ms INTEGER NOT NULL,
			repetitions INTEGER NOT NULL,
			next_time_ms INTEGER NOT NULL,
			requester_pubkey TEXT NOT NULL,
			requester_npub TEXT NOT NULL DEFAULT '',
			requester_name TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_requester_target ON tasks(requester_pubkey, target_event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_repetitions ON tasks(repetitions)`,
		`CREATE TABLE IF NOT EXISTS quarantined_tasks (
			id TEXT PRIMARY KEY,
			raw TEXT NOT NULL,
			reason TEXT NOT NULL,
			quarantined_at_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mention_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pubkey TEXT NOT NULL,
			logged_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mention_logs_pubkey ON mention_logs(pubkey, logged_at_ms)`,
		`CREATE TABLE IF NOT EXISTS user_task_counts (
			pubkey TEXT PRIMARY KEY,
			high_frequency_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS processed_mentions (
			mention_id TEXT PRIMARY KEY,
			pubkey TEXT NOT NULL,
			target_event_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			interval_name TEXT NOT NULL DEFAULT '',
			repetitions INTEGER NOT NULL DEFAULT 0,
			processed_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_mentions_at ON processed_mentions(processed_at_ms)`,
	},
}

// NewSQLiteStorage opens (and creates if needed) a SQLite database file
func NewSQLiteStorage(path string, timeout time.Duration, archive ArchiveInterface) (*SQLStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	s, err := newSQLStorage(db, sqliteDialect, timeout, archive)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
