package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nostr-banger/banger-bot/internal/models"
)

// taskRecordVersion is written with every task row. Rows carrying any other
// version are quarantined on load.
const taskRecordVersion = 1

// ErrMalformedTask is wrapped by every row validation failure
var ErrMalformedTask = errors.New("malformed task record")

// taskRow is the exact column shape of the tasks table
type taskRow struct {
	ID              string `json:"id"`
	RecordVersion   int    `json:"record_version"`
	TargetEventID   string `json:"target_event_id"`
	TargetEvent     string `json:"target_event"`
	IntervalMS      int64  `json:"interval_ms"`
	Repetitions     int    `json:"repetitions"`
	NextTimeMS      int64  `json:"next_time_ms"`
	RequesterPubKey string `json:"requester_pubkey"`
	RequesterNPub   string `json:"requester_npub"`
	RequesterName   string `json:"requester_name"`
	CreatedAtMS     int64  `json:"created_at_ms"`
}

func rowFromTask(task models.Task) (taskRow, error) {
	if task.ID == "" {
		return taskRow{}, fmt.Errorf("%w: empty id", ErrMalformedTask)
	}
	if _, ok := task.Interval(); !ok {
		return taskRow{}, fmt.Errorf("%w: task %s has unknown interval %v", ErrMalformedTask, task.ID, task.IntervalDuration)
	}

	event, err := json.Marshal(task.TargetEvent)
	if err != nil {
		return taskRow{}, fmt.Errorf("failed to marshal target event of task %s: %w", task.ID, err)
	}

	return taskRow{
		ID:              task.ID,
		RecordVersion:   taskRecordVersion,
		TargetEventID:   task.TargetEvent.ID,
		TargetEvent:     string(event),
		IntervalMS:      task.IntervalDuration.Milliseconds(),
		Repetitions:     task.RepetitionsRemaining,
		NextTimeMS:      task.NextFireTime.UnixMilli(),
		RequesterPubKey: task.Requester.PubKey,
		RequesterNPub:   task.Requester.NPub,
		RequesterName:   task.Requester.Name,
		CreatedAtMS:     task.CreatedAt.UnixMilli(),
	}, nil
}

func (r taskRow) toTask() (models.Task, error) {
	if r.RecordVersion != taskRecordVersion {
		return models.Task{}, fmt.Errorf("%w: unsupported record version %d", ErrMalformedTask, r.RecordVersion)
	}
	if r.ID == "" {
		return models.Task{}, fmt.Errorf("%w: empty id", ErrMalformedTask)
	}
	if r.RequesterPubKey == "" {
		return models.Task{}, fmt.Errorf("%w: empty requester", ErrMalformedTask)
	}
	if r.Repetitions < 0 {
		return models.Task{}, fmt.Errorf("%w: negative repetitions %d", ErrMalformedTask, r.Repetitions)
	}

	interval := time.Duration(r.IntervalMS) * time.Millisecond
	if _, ok := models.IntervalFromDuration(interval); !ok {
		return models.Task{}, fmt.Errorf("%w: unknown interval %dms", ErrMalformedTask, r.IntervalMS)
	}

	var event nostr.Event
	if err := json.Unmarshal([]byte(r.TargetEvent), &event); err != nil {
		return models.Task{}, fmt.Errorf("%w: target event does not decode: %v", ErrMalformedTask, err)
	}
	if event.ID == "" || event.ID != r.TargetEventID {
		return models.Task{}, fmt.Errorf("%w: target event id %q does not match column %q", ErrMalformedTask, event.ID, r.TargetEventID)
	}

	return models.Task{
		ID:                   r.ID,
		TargetEvent:          event,
		IntervalDuration:     interval,
		RepetitionsRemaining: r.Repetitions,
		NextFireTime:         time.UnixMilli(r.NextTimeMS),
		Requester: models.Requester{
			PubKey: r.RequesterPubKey,
			NPub:   r.RequesterNPub,
			Name:   r.RequesterName,
		},
		CreatedAt: time.UnixMilli(r.CreatedAtMS),
	}, nil
}

// quarantinedRow is what gets archived for a row that failed validation
type quarantinedRow struct {
	Row           taskRow   `json:"row"`
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}
