package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStorage(t *testing.T) {
	dsn := os.Getenv("BANGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BANGER_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := NewPostgresStorage(ctx, dsn, 10*time.Second, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.Exec(`TRUNCATE tasks, quarantined_tasks, mention_logs, user_task_counts, processed_mentions`)
	require.NoError(t, err)

	now := time.Now()
	task := testTask("pgevent", "alice", models.Daily, 3, now)
	require.NoError(t, s.UpsertTasks(ctx, []models.Task{task}))

	tasks, err := s.LoadActiveTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)

	require.NoError(t, s.IncrementUserTaskCounter(ctx, "alice"))
	n, err := s.GetUserTaskCounter(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.LogMention(ctx, "alice", now))
	n, err = s.CountRecentMentions(ctx, "alice", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	removed, err := s.DeleteTaskByRequesterAndTarget(ctx, "alice", "pgevent")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
