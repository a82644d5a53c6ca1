package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			record_version INTEGER NOT NULL DEFAULT 1,
			target_event_id TEXT NOT NULL,
			target_event TEXT NOT NULL,
			interval_ms BIGINT NOT NULL,
			repetitions INTEGER NOT NULL,
			next_time_ms BIGINT NOT NULL,
			requester_pubkey TEXT NOT NULL,
			requester_npub TEXT NOT NULL DEFAULT '',
			requester_name TEXT NOT NULL DEFAULT '',
			created_at_ms BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_requester_target ON tasks(requester_pubkey, target_event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_repetitions ON tasks(repetitions)`,
		`CREATE TABLE IF NOT EXISTS quarantined_tasks (
			id TEXT PRIMARY KEY,
			raw TEXT NOT NULL,
			reason TEXT NOT NULL,
			quarantined_at_ms BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mention_logs (
			id BIGSERIAL PRIMARY KEY,
			pubkey TEXT NOT NULL,
			logged_at_ms BIGINT NOT NULL
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
			processed_at_ms BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_mentions_at ON processed_mentions(processed_at_ms)`,
	},
}

// NewPostgresStorage connects to Postgres through the pgx database/sql driver
func NewPostgresStorage(ctx context.Context, dsn string, timeout time.Duration, archive ArchiveInterface) (*SQLStorage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s, err := newSQLStorage(db, postgresDialect, timeout, archive)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
