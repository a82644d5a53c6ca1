package guard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/nostr-banger/banger-bot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTaskLookup is a mock implementation of the scheduler's task view
type MockTaskLookup struct {
	mock.Mock
}

func (m *MockTaskLookup) HasTask(pubkey, targetEventID string) bool {
	args := m.Called(pubkey, targetEventID)
	return args.Bool(0)
}

func (m *MockTaskLookup) Count() int {
	args := m.Called()
	return args.Int(0)
}

var testLimits = Limits{MaxMentionsPerHour: 10, MaxTasksPerUser: 5, MaxTotalTasks: 3}

func newTestStore(t *testing.T) *storage.SQLStorage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "guard.db"), 5*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTask(targetID, requester string, reps int, now time.Time) models.Task {
	target := nostr.Event{ID: targetID, PubKey: "author", Kind: nostr.KindTextNote, Tags: nostr.Tags{}}
	return models.NewTask(target, models.Weekly, reps, models.Requester{PubKey: requester}, now)
}

func TestGuard_CheckMentionRate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	g := NewGuard(store, nil, testLimits)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.nowFunc = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		allowed, err := g.CheckMentionRate(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, allowed, "mention %d", i+1)
		now = now.Add(time.Minute)
	}

	// 11th mention inside the window
	allowed, err := g.CheckMentionRate(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, allowed)

	// a denied check writes nothing
	n, err := store.CountRecentMentions(ctx, "alice", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// other identities are unaffected
	allowed, err = g.CheckMentionRate(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, allowed)

	// the first mention falls out of the window
	now = time.Date(2026, 3, 1, 13, 0, 0, int(time.Millisecond), time.UTC)
	allowed, err = g.CheckMentionRate(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestGuard_CheckUserTaskCap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	g := NewGuard(store, nil, testLimits)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.IncrementUserTaskCounter(ctx, "alice"))
	}

	tests := []struct {
		name     string
		pubkey   string
		interval models.Interval
		expected bool
	}{
		{"High frequency at cap", "alice", models.Hourly, false},
		{"Minutely at cap", "alice", models.Minutely, false},
		{"Low frequency ignores cap", "alice", models.Weekly, true},
		{"Other identity under cap", "bob", models.Daily, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, err := g.CheckUserTaskCap(ctx, tt.pubkey, tt.interval)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, allowed)
		})
	}
}

func TestGuard_CheckDuplicateTask(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	lookup := &MockTaskLookup{}
	g := NewGuard(store, lookup, testLimits)
	now := time.Now()

	lookup.On("HasTask", "alice", "in-memory").Return(true)
	lookup.On("HasTask", mock.Anything, mock.Anything).Return(false)

	require.NoError(t, store.UpsertTasks(ctx, []models.Task{
		newTask("stored", "alice", 2, now),
		newTask("finished", "alice", 0, now),
	}))

	tests := []struct {
		name     string
		target   string
		expected bool
	}{
		{"Present in memory", "in-memory", true},
		{"Present only in store", "stored", true},
		{"Completed rows are not duplicates", "finished", false},
		{"Unknown target", "fresh", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			present, err := g.CheckDuplicateTask(ctx, "alice", tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, present)
		})
	}
}

func TestGuard_CheckGlobalCap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	lookup := &MockTaskLookup{}
	g := NewGuard(store, lookup, testLimits)

	lookup.On("Count").Return(1).Once()
	allowed, err := g.CheckGlobalCap(ctx)
	require.NoError(t, err)
	assert.True(t, allowed)

	// the larger of memory and store wins
	lookup.On("Count").Return(3).Once()
	allowed, err = g.CheckGlobalCap(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)

	now := time.Now()
	require.NoError(t, store.UpsertTasks(ctx, []models.Task{
		newTask("a", "alice", 1, now),
		newTask("b", "alice", 1, now),
		newTask("c", "alice", 1, now),
	}))
	lookup.On("Count").Return(0).Once()
	allowed, err = g.CheckGlobalCap(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestGuard_FailsClosedOnStoreError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	lookup := &MockTaskLookup{}
	lookup.On("HasTask", mock.Anything, mock.Anything).Return(false)
	lookup.On("Count").Return(0)
	g := NewGuard(store, lookup, testLimits)

	require.NoError(t, store.Close())

	allowed, err := g.CheckMentionRate(ctx, "alice")
	assert.Error(t, err)
	assert.False(t, allowed)

	allowed, err = g.CheckUserTaskCap(ctx, "alice", models.Hourly)
	assert.Error(t, err)
	assert.False(t, allowed)

	present, err := g.CheckDuplicateTask(ctx, "alice", "event1")
	assert.Error(t, err)
	assert.True(t, present)

	allowed, err = g.CheckGlobalCap(ctx)
	assert.Error(t, err)
	assert.False(t, allowed)
}
