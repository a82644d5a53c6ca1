package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nostr-banger/banger-bot/internal/config"
	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/nostr-banger/banger-bot/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// mentionLogRetention matches the spam guard rate window
const mentionLogRetention = time.Hour

// Reposter publishes the repost for one firing of a task
type Reposter interface {
	PublishRepost(ctx context.Context, task models.Task) error
}

// Service is the single owner of in-memory task state. Tasks close to their
// fire time get a timer; the rest wait for the periodic sweep.
type Service struct {
	config   *config.Config
	store    storage.StorageInterface
	reposter Reposter
	cron     *cron.Cron
	nowFunc  func() time.Time

	mu             sync.Mutex
	runCtx         context.Context
	tasks          map[string]*models.Task
	timers         map[string]*time.Timer
	firing         map[string]bool
	dirty          map[string]bool
	pendingDeletes map[string]bool
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, store storage.StorageInterface, reposter Reposter) *Service {
	return &Service{
		config:         cfg,
		store:          store,
		reposter:       reposter,
		cron:           cron.New(cron.WithSeconds()),
		nowFunc:        time.Now,
		runCtx:         context.Background(),
		tasks:          make(map[string]*models.Task),
		timers:         make(map[string]*time.Timer),
		firing:         make(map[string]bool),
		dirty:          make(map[string]bool),
		pendingDeletes: make(map[string]bool),
	}
}

// SetClock replaces the clock used for fire times. It must be called before
// Start.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = now
}

// Start loads persisted tasks, arms the ones inside the timer horizon and
// starts the sweep and maintenance jobs.
func (s *Service) Start(ctx context.Context) error {
	tasks, err := s.store.LoadActiveTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	s.mu.Lock()
	s.runCtx = ctx
	now := s.nowFunc()
	for i := range tasks {
		task := tasks[i]
		s.tasks[task.ID] = &task
		s.armLocked(&task, now)
	}
	s.mu.Unlock()

	_, err = s.cron.AddFunc(s.config.SweepSchedule, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.config.SweepSchedule, err)
	}

	_, err = s.cron.AddFunc(s.config.CleanupSchedule, func() {
		s.Cleanup(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.config.CleanupSchedule, err)
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with %d active tasks (sweep %s, cleanup %s)",
		len(tasks), s.config.SweepSchedule, s.config.CleanupSchedule)
	return nil
}

// Stop stops the cron jobs and every armed timer
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	logrus.Info("Scheduler stopped")
}

// CreateTask registers a new task and persists it. When the store rejects
// the task it is dropped from memory again and the error is returned.
func (s *Service) CreateTask(ctx context.Context, task models.Task) error {
	if !task.Active() {
		return fmt.Errorf("task %s has no repetitions", task.ID)
	}

	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task %s already exists", task.ID)
	}
	t := task
	s.tasks[task.ID] = &t
	s.mu.Unlock()

	if err := s.store.UpsertTasks(ctx, []models.Task{task}); err != nil {
		s.mu.Lock()
		delete(s.tasks, task.ID)
		s.mu.Unlock()
		return fmt.Errorf("failed to persist task: %w", err)
	}

	s.mu.Lock()
	if current, ok := s.tasks[task.ID]; ok {
		s.armLocked(current, s.nowFunc())
	}
	s.mu.Unlock()

	if task.HighFrequency() {
		if err := s.store.IncrementUserTaskCounter(ctx, task.Requester.PubKey); err != nil {
			logrus.Errorf("Failed to increment task counter for %s: %v", task.Requester.PubKey, err)
		}
	}

	logrus.WithFields(taskFields(task)).Info("Task scheduled")
	return nil
}

// armLocked arms a timer when the task is due within the horizon,
// replacing any timer already armed for it. Callers hold s.mu.
func (s *Service) armLocked(task *models.Task, now time.Time) {
	horizon := s.config.TimerHorizon
	if horizon <= 0 {
		return
	}

	delay := task.NextFireTime.Sub(now)
	if delay > horizon {
		return
	}
	if delay < 0 {
		delay = 0
	}

	if existing, ok := s.timers[task.ID]; ok {
		existing.Stop()
	}

	id := task.ID
	ctx := s.runCtx
	s.timers[id] = time.AfterFunc(delay, func() {
		s.fire(ctx, id)
	})
}

func (s *Service) stopTimerLocked(id string) {
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

// Sweep fires overdue tasks, arms timers for tasks that entered the horizon
// and retries store writes that failed earlier.
func (s *Service) Sweep(ctx context.Context) {
	now := s.nowFunc()

	s.mu.Lock()
	var due []string
	for id, task := range s.tasks {
		if s.firing[id] {
			continue
		}
		if !task.NextFireTime.After(now) {
			due = append(due, id)
			continue
		}
		if _, armed := s.timers[id]; !armed {
			s.armLocked(task, now)
		}
	}

	var upserts []models.Task
	for id := range s.dirty {
		if task, ok := s.tasks[id]; ok {
			upserts = append(upserts, *task)
		}
		delete(s.dirty, id)
	}
	var deletes []string
	for id := range s.pendingDeletes {
		deletes = append(deletes, id)
		delete(s.pendingDeletes, id)
	}
	s.mu.Unlock()

	if len(upserts) > 0 {
		if err := s.store.UpsertTasks(ctx, upserts); err != nil {
			logrus.Errorf("Sweep failed to persist %d tasks: %v", len(upserts), err)
			s.mu.Lock()
			for _, task := range upserts {
				s.dirty[task.ID] = true
			}
			s.mu.Unlock()
		}
	}

	for _, id := range deletes {
		if err := s.store.DeleteTask(ctx, id); err != nil {
			logrus.Errorf("Sweep failed to delete task %s: %v", id, err)
			s.mu.Lock()
			s.pendingDeletes[id] = true
			s.mu.Unlock()
		}
	}

	sort.Strings(due)
	for _, id := range due {
		s.fire(ctx, id)
	}

	if len(due) > 0 || len(upserts) > 0 || len(deletes) > 0 {
		logrus.Infof("Sweep fired %d tasks, retried %d writes and %d deletes", len(due), len(upserts), len(deletes))
	}
}

// fire publishes one repost for the task if it is due. It is safe to call
// more than once for the same firing.
func (s *Service) fire(ctx context.Context, id string) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok || s.firing[id] {
		s.mu.Unlock()
		return
	}
	now := s.nowFunc()
	if task.NextFireTime.After(now) {
		s.armLocked(task, now)
		s.mu.Unlock()
		return
	}
	s.firing[id] = true
	s.stopTimerLocked(id)
	snapshot := *task
	s.mu.Unlock()

	err := s.reposter.PublishRepost(ctx, snapshot)

	s.mu.Lock()
	delete(s.firing, id)
	current, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		logrus.WithFields(taskFields(snapshot)).Info("Task cancelled while its repost was in flight")
		return
	}
	if err != nil {
		s.mu.Unlock()
		logrus.WithFields(taskFields(snapshot)).Errorf("Failed to publish repost, will retry on next sweep: %v", err)
		return
	}

	current.RepetitionsRemaining--
	if current.RepetitionsRemaining > 0 {
		now = s.nowFunc()
		current.NextFireTime = now.Add(current.IntervalDuration)
		s.armLocked(current, now)
		updated := *current
		s.mu.Unlock()

		logrus.WithFields(taskFields(updated)).Infof("Repost published, %d remaining", updated.RepetitionsRemaining)
		s.persist(ctx, updated)
		return
	}

	delete(s.tasks, id)
	delete(s.dirty, id)
	s.mu.Unlock()

	logrus.WithFields(taskFields(snapshot)).Info("Final repost published, task retired")
	if err := s.store.DeleteTask(ctx, id); err != nil {
		logrus.Errorf("Failed to delete retired task %s, queued for next sweep: %v", id, err)
		s.mu.Lock()
		s.pendingDeletes[id] = true
		s.mu.Unlock()

		// A row with no repetitions left is invisible to lookups, restarts
		// and cancels until the delete goes through.
		spent := snapshot
		spent.RepetitionsRemaining = 0
		if err := s.store.UpsertTasks(ctx, []models.Task{spent}); err != nil {
			logrus.Errorf("Failed to mark retired task %s as spent: %v", id, err)
		}
	}
	if snapshot.HighFrequency() {
		if err := s.store.DecrementUserTaskCounter(ctx, snapshot.Requester.PubKey); err != nil {
			logrus.Errorf("Failed to decrement task counter for %s: %v", snapshot.Requester.PubKey, err)
		}
	}
}

// persist writes a rescheduled task. A task cancelled while the write was in
// flight is queued for deletion so the write cannot resurrect it.
func (s *Service) persist(ctx context.Context, task models.Task) {
	err := s.store.UpsertTasks(ctx, []models.Task{task})

	s.mu.Lock()
	defer s.mu.Unlock()

	_, live := s.tasks[task.ID]
	switch {
	case !live:
		s.pendingDeletes[task.ID] = true
	case err != nil:
		logrus.Errorf("Failed to persist task %s, will retry on next sweep: %v", task.ID, err)
		s.dirty[task.ID] = true
	}
}

// CancelSpecificTask cancels every task pairing the requester with the
// target event and returns how many distinct tasks were cancelled.
func (s *Service) CancelSpecificTask(ctx context.Context, pubkey, targetEventID string) int {
	match := func(t models.Task) bool {
		return t.Requester.PubKey == pubkey && t.TargetID() == targetEventID
	}
	find := func(ctx context.Context) ([]models.Task, error) {
		return s.store.FindTasksByRequesterAndTarget(ctx, pubkey, targetEventID)
	}
	remove := func(ctx context.Context) error {
		_, err := s.store.DeleteTaskByRequesterAndTarget(ctx, pubkey, targetEventID)
		return err
	}
	return s.cancel(ctx, match, find, remove)
}

// CancelUserTasks cancels every task of a requester
func (s *Service) CancelUserTasks(ctx context.Context, pubkey string) int {
	match := func(t models.Task) bool {
		return t.Requester.PubKey == pubkey
	}
	find := func(ctx context.Context) ([]models.Task, error) {
		return s.store.FindTasksByRequester(ctx, pubkey)
	}
	remove := func(ctx context.Context) error {
		_, err := s.store.DeleteTasksByRequester(ctx, pubkey)
		return err
	}
	return s.cancel(ctx, match, find, remove)
}

func (s *Service) cancel(
	ctx context.Context,
	match func(models.Task) bool,
	find func(context.Context) ([]models.Task, error),
	remove func(context.Context) error,
) int {
	cancelled := make(map[string]models.Task)

	s.mu.Lock()
	for id, task := range s.tasks {
		if !match(*task) {
			continue
		}
		cancelled[id] = *task
		delete(s.tasks, id)
		delete(s.dirty, id)
		s.stopTimerLocked(id)
	}
	s.mu.Unlock()

	stored, err := find(ctx)
	if err != nil {
		logrus.Errorf("Failed to look up stored tasks to cancel: %v", err)
	}
	s.mu.Lock()
	for _, task := range stored {
		// rows still waiting for a delete were already retired or cancelled
		if s.pendingDeletes[task.ID] || task.RepetitionsRemaining <= 0 {
			continue
		}
		if _, seen := cancelled[task.ID]; !seen {
			cancelled[task.ID] = task
		}
	}
	s.mu.Unlock()

	if err := remove(ctx); err != nil {
		logrus.Errorf("Failed to delete cancelled tasks, queued for next sweep: %v", err)
		s.mu.Lock()
		for id := range cancelled {
			s.pendingDeletes[id] = true
		}
		s.mu.Unlock()
	}

	for _, task := range cancelled {
		if task.HighFrequency() {
			if err := s.store.DecrementUserTaskCounter(ctx, task.Requester.PubKey); err != nil {
				logrus.Errorf("Failed to decrement task counter for %s: %v", task.Requester.PubKey, err)
			}
		}
		logrus.WithFields(taskFields(task)).Info("Task cancelled")
	}

	return len(cancelled)
}

// Cleanup prunes the mention rate log, completed task rows and old
// processed-mention records.
func (s *Service) Cleanup(ctx context.Context) {
	now := s.nowFunc()

	if n, err := s.store.PruneMentionLog(ctx, now.Add(-mentionLogRetention)); err != nil {
		logrus.Errorf("Failed to prune mention log: %v", err)
	} else if n > 0 {
		logrus.Infof("Pruned %d mention log rows", n)
	}

	if n, err := s.store.DeleteCompletedTasks(ctx); err != nil {
		logrus.Errorf("Failed to delete completed tasks: %v", err)
	} else if n > 0 {
		logrus.Infof("Deleted %d completed task rows", n)
	}

	if s.config.ProcessedRetention > 0 {
		if n, err := s.store.PruneProcessedMentions(ctx, now.Add(-s.config.ProcessedRetention)); err != nil {
			logrus.Errorf("Failed to prune processed mentions: %v", err)
		} else if n > 0 {
			logrus.Infof("Pruned %d processed mention records", n)
		}
	}
}

// HasTask reports whether the requester has an in-memory task for the target
func (s *Service) HasTask(pubkey, targetEventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		if task.Requester.PubKey == pubkey && task.TargetID() == targetEventID {
			return true
		}
	}
	return false
}

// Count returns the number of in-memory tasks
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Snapshot returns a copy of all in-memory tasks ordered by next fire time
func (s *Service) Snapshot() []models.Task {
	s.mu.Lock()
	tasks := make([]models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, *task)
	}
	s.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].NextFireTime.Equal(tasks[j].NextFireTime) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].NextFireTime.Before(tasks[j].NextFireTime)
	})
	return tasks
}

func taskFields(task models.Task) logrus.Fields {
	interval, _ := task.Interval()
	return logrus.Fields{
		"task_id":     task.ID,
		"target":      task.TargetID(),
		"requester":   task.Requester.PubKey,
		"interval":    interval.String(),
		"repetitions": task.RepetitionsRemaining,
		"next_fire":   task.NextFireTime.UTC().Format(time.RFC3339),
	}
}
