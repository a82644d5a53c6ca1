// Package guard enforces the anti-abuse limits applied to every mention.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/nostr-banger/banger-bot/internal/storage"
)

// rateWindow is the trailing window used by the mention rate limit
const rateWindow = time.Hour

// TaskLookup exposes the scheduler's in-memory view of active tasks
type TaskLookup interface {
	HasTask(pubkey, targetEventID string) bool
	Count() int
}

// Limits holds the configured caps
type Limits struct {
	MaxMentionsPerHour int
	MaxTasksPerUser    int
	MaxTotalTasks      int
}

// Guard checks mention rate, per-user and global task caps, and duplicates.
// Every check fails closed: when the store cannot answer, the check denies.
type Guard struct {
	mu      sync.Mutex
	store   storage.StorageInterface
	tasks   TaskLookup
	limits  Limits
	nowFunc func() time.Time
}

// NewGuard creates a new spam guard
func NewGuard(store storage.StorageInterface, tasks TaskLookup, limits Limits) *Guard {
	return &Guard{
		store:   store,
		tasks:   tasks,
		limits:  limits,
		nowFunc: time.Now,
	}
}

// CheckMentionRate allows the mention when the identity is under its hourly
// budget and records it. A denied mention is not recorded.
func (g *Guard) CheckMentionRate(ctx context.Context, pubkey string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	n, err := g.store.CountRecentMentions(ctx, pubkey, now.Add(-rateWindow))
	if err != nil {
		return false, fmt.Errorf("failed to check mention rate: %w", err)
	}
	if n >= g.limits.MaxMentionsPerHour {
		return false, nil
	}

	if err := g.store.LogMention(ctx, pubkey, now); err != nil {
		return false, fmt.Errorf("failed to record mention: %w", err)
	}
	return true, nil
}

// CheckUserTaskCap allows the task unless it is high-frequency and the
// identity already holds the maximum number of high-frequency tasks.
func (g *Guard) CheckUserTaskCap(ctx context.Context, pubkey string, interval models.Interval) (bool, error) {
	if !interval.HighFrequency() {
		return true, nil
	}

	n, err := g.store.GetUserTaskCounter(ctx, pubkey)
	if err != nil {
		return false, fmt.Errorf("failed to read user task counter: %w", err)
	}
	return n < g.limits.MaxTasksPerUser, nil
}

// CheckDuplicateTask reports whether the identity already has an active task
// for the target, in memory or in the store.
func (g *Guard) CheckDuplicateTask(ctx context.Context, pubkey, targetEventID string) (bool, error) {
	if g.tasks != nil && g.tasks.HasTask(pubkey, targetEventID) {
		return true, nil
	}

	tasks, err := g.store.FindTasksByRequesterAndTarget(ctx, pubkey, targetEventID)
	if err != nil {
		return true, fmt.Errorf("failed to look up existing tasks: %w", err)
	}
	return len(tasks) > 0, nil
}

// CheckGlobalCap allows new tasks while the active total is under the cap
func (g *Guard) CheckGlobalCap(ctx context.Context) (bool, error) {
	n, err := g.store.CountActiveTasks(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count active tasks: %w", err)
	}
	if g.tasks != nil {
		n = max(n, g.tasks.Count())
	}
	return n < g.limits.MaxTotalTasks, nil
}
