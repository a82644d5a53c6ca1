package storage

import (
	"context"
	"time"

	"github.com/nostr-banger/banger-bot/internal/models"
)

// StorageInterface defines the contract for durable task, rate-log and
// counter storage. Every write is an upsert or otherwise idempotent so
// callers can retry after a transient failure.
type StorageInterface interface {
	UpsertTasks(ctx context.Context, tasks []models.Task) error
	LoadActiveTasks(ctx context.Context) ([]models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	DeleteTasksByRequester(ctx context.Context, pubkey string) (int, error)
	DeleteTaskByRequesterAndTarget(ctx context.Context, pubkey, eventID string) (int, error)
	FindTasksByRequesterAndTarget(ctx context.Context, pubkey, eventID string) ([]models.Task, error)
	FindTasksByRequester(ctx context.Context, pubkey string) ([]models.Task, error)
	CountActiveTasks(ctx context.Context) (int, error)
	DeleteCompletedTasks(ctx context.Context) (int, error)

	LogMention(ctx context.Context, pubkey string, at time.Time) error
	CountRecentMentions(ctx context.Context, pubkey string, windowStart time.Time) (int, error)
	PruneMentionLog(ctx context.Context, cutoff time.Time) (int, error)

	GetUserTaskCounter(ctx context.Context, pubkey string) (int, error)
	IncrementUserTaskCounter(ctx context.Context, pubkey string) error
	DecrementUserTaskCounter(ctx context.Context, pubkey string) error

	IsMentionProcessed(ctx context.Context, mentionID string) (bool, error)
	MarkMentionProcessed(ctx context.Context, record models.ProcessedMention) error
	PruneProcessedMentions(ctx context.Context, cutoff time.Time) (int, error)
	CountOutcomesSince(ctx context.Context, since time.Time) (map[models.Outcome]int, error)

	Close() error
}

// ArchiveInterface is a write-mostly blob sink for quarantined rows and reports
type ArchiveInterface interface {
	Store(ctx context.Context, filename string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
}
