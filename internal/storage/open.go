package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config selects and configures a storage backend
type Config struct {
	Driver      string // "sqlite" or "postgres"
	SQLitePath  string
	DatabaseURL string
	Timeout     time.Duration
	Archive     ArchiveInterface
}

// Open initializes the configured backend
func Open(ctx context.Context, cfg Config) (*SQLStorage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return NewSQLiteStorage(cfg.SQLitePath, cfg.Timeout, cfg.Archive)
	case "postgres", "postgresql", "pgx":
		return NewPostgresStorage(ctx, cfg.DatabaseURL, cfg.Timeout, cfg.Archive)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
