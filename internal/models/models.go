package models

import (
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Requester identifies who asked for a task
type Requester struct {
	PubKey string `json:"pubkey"`
	NPub   string `json:"npub,omitempty"`
	Name   string `json:"name"`
}

// Task represents one scheduled repost obligation
type Task struct {
	ID                   string        `json:"id"`
	TargetEvent          nostr.Event   `json:"target_event"`
	IntervalDuration     time.Duration `json:"interval_duration"`
	RepetitionsRemaining int           `json:"repetitions_remaining"`
	NextFireTime         time.Time     `json:"next_fire_time"`
	Requester            Requester     `json:"requester"`
	CreatedAt            time.Time     `json:"created_at"`
}

// NewTaskID derives a task id from the target event and the creation time.
func NewTaskID(targetEventID string, createdAt time.Time) string {
	return fmt.Sprintf("%s_%d", targetEventID, createdAt.UnixMilli())
}

// NewTask builds a task whose first repost is exactly one interval after now
func NewTask(target nostr.Event, interval Interval, repetitions int, requester Requester, now time.Time) Task {
	return Task{
		ID:                   NewTaskID(target.ID, now),
		TargetEvent:          target,
		IntervalDuration:     interval.Duration(),
		RepetitionsRemaining: repetitions,
		NextFireTime:         now.Add(interval.Duration()),
		Requester:            requester,
		CreatedAt:            now,
	}
}

// Interval returns the named interval matching the task duration
func (t Task) Interval() (Interval, bool) {
	return IntervalFromDuration(t.IntervalDuration)
}

// HighFrequency reports whether the task counts against the per-user cap
func (t Task) HighFrequency() bool {
	interval, ok := t.Interval()
	return ok && interval.HighFrequency()
}

// Active reports whether the task still has reposts to publish
func (t Task) Active() bool {
	return t.RepetitionsRemaining > 0
}

// TargetID returns the id of the event being reposted
func (t Task) TargetID() string {
	return t.TargetEvent.ID
}

// Outcome is the terminal result of processing one mention
type Outcome string

const (
	OutcomeScheduled          Outcome = "scheduled"
	OutcomeCancelled          Outcome = "cancelled"
	OutcomeNoTaskToCancel     Outcome = "no_task_to_cancel"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeInvalidCommand     Outcome = "invalid_command"
	OutcomeNoEventID          Outcome = "no_event_id"
	OutcomeDuplicateTask      Outcome = "duplicate_task"
	OutcomeTotalLimitExceeded Outcome = "total_limit_exceeded"
	OutcomeUserLimitExceeded  Outcome = "user_limit_exceeded"
	OutcomeEventNotFound      Outcome = "event_not_found"
	OutcomeOwnContent         Outcome = "own_content"
	OutcomeProcessingError    Outcome = "processing_error"
)

// ProcessedMention records how a mention was handled
type ProcessedMention struct {
	MentionID     string    `json:"mention_id"`
	PubKey        string    `json:"pubkey"`
	TargetEventID string    `json:"target_event_id,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Interval      Interval  `json:"interval,omitempty"`
	Repetitions   int       `json:"repetitions,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// Report represents a periodic status report of the bot
type Report struct {
	GeneratedAt     time.Time              `json:"generated_at"`
	Period          string                 `json:"period"` // "daily" or "weekly"
	ActiveTasks     int                    `json:"active_tasks"`
	MentionsHandled int                    `json:"mentions_handled"`
	Outcomes        map[Outcome]int        `json:"outcomes"`
	UpcomingReposts []Task                 `json:"upcoming_reposts,omitempty"`
	Summary         map[string]interface{} `json:"summary"`
}

// Alert represents an urgent operator notification
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "critical", "urgent", "info"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Task      *Task     `json:"task,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
