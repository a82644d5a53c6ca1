package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/sirupsen/logrus"
)

// dialect captures the differences between the SQL backends
type dialect struct {
	name   string
	schema []string
	// numbered placeholders ($1, $2, ...) instead of "?"
	numbered bool
}

// SQLStorage implements StorageInterface on top of database/sql
type SQLStorage struct {
	db      *sql.DB
	dialect dialect
	timeout time.Duration
	archive ArchiveInterface
}

// Ensure SQLStorage implements StorageInterface
var _ StorageInterface = (*SQLStorage)(nil)

func newSQLStorage(db *sql.DB, d dialect, timeout time.Duration, archive ArchiveInterface) (*SQLStorage, error) {
	s := &SQLStorage{
		db:      db,
		dialect: d,
		timeout: timeout,
		archive: archive,
	}

	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate %s schema: %w", d.name, err)
	}
	return s, nil
}

func (s *SQLStorage) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (s *SQLStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// rebind rewrites "?" placeholders for dialects that number them
func (s *SQLStorage) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStorage) exec(ctx context.Context, query string, args ...any) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLStorage) count(ctx context.Context, query string, args ...any) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

const upsertTaskQuery = `
INSERT INTO tasks (id, record_version, target_event_id, target_event, interval_ms, repetitions, next_time_ms,
	requester_pubkey, requester_npub, requester_name, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	record_version = excluded.record_version,
	target_event_id = excluded.target_event_id,
	target_event = excluded.target_event,
	interval_ms = excluded.interval_ms,
	repetitions = excluded.repetitions,
	next_time_ms = excluded.next_time_ms,
	requester_pubkey = excluded.requester_pubkey,
	requester_npub = excluded.requester_npub,
	requester_name = excluded.requester_name,
	created_at_ms = excluded.created_at_ms`

const selectTaskColumns = `SELECT id, record_version, target_event_id, target_event, interval_ms, repetitions,
	next_time_ms, requester_pubkey, requester_npub, requester_name, created_at_ms FROM tasks`

// UpsertTasks writes the given tasks in a single transaction
func (s *SQLStorage) UpsertTasks(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	rows := make([]taskRow, 0, len(tasks))
	for _, task := range tasks {
		row, err := rowFromTask(task)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.rebind(upsertTaskQuery)
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, query,
			r.ID, r.RecordVersion, r.TargetEventID, r.TargetEvent, r.IntervalMS, r.Repetitions, r.NextTimeMS,
			r.RequesterPubKey, r.RequesterNPub, r.RequesterName, r.CreatedAtMS,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert task %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tasks: %w", err)
	}
	return nil
}

// LoadActiveTasks returns every task with repetitions left. Rows that fail
// validation are quarantined and left out of the result.
func (s *SQLStorage) LoadActiveTasks(ctx context.Context) ([]models.Task, error) {
	tasks, malformed, err := s.queryTasks(ctx, selectTaskColumns+` WHERE repetitions > 0 ORDER BY next_time_ms`)
	if err != nil {
		return nil, fmt.Errorf("failed to load active tasks: %w", err)
	}

	for _, m := range malformed {
		if err := s.quarantine(ctx, m.row, m.err); err != nil {
			logrus.Errorf("Failed to quarantine task row %s: %v", m.row.ID, err)
			continue
		}
		logrus.WithField("task_id", m.row.ID).Warnf("Quarantined malformed task row: %v", m.err)
	}

	return tasks, nil
}

// ListActiveTasks returns every valid task with repetitions left plus the
// number of rows that failed validation. Unlike LoadActiveTasks it never
// modifies the store.
func (s *SQLStorage) ListActiveTasks(ctx context.Context) ([]models.Task, int, error) {
	tasks, malformed, err := s.queryTasks(ctx, selectTaskColumns+` WHERE repetitions > 0 ORDER BY next_time_ms`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list active tasks: %w", err)
	}
	return tasks, len(malformed), nil
}

type malformedRow struct {
	row taskRow
	err error
}

func (s *SQLStorage) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, []malformedRow, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	var malformed []malformedRow
	for rows.Next() {
		var r taskRow
		if err := rows.Scan(&r.ID, &r.RecordVersion, &r.TargetEventID, &r.TargetEvent, &r.IntervalMS, &r.Repetitions,
			&r.NextTimeMS, &r.RequesterPubKey, &r.RequesterNPub, &r.RequesterName, &r.CreatedAtMS); err != nil {
			return nil, nil, err
		}

		task, err := r.toTask()
		if err != nil {
			malformed = append(malformed, malformedRow{row: r, err: err})
			continue
		}
		tasks = append(tasks, task)
	}

	return tasks, malformed, rows.Err()
}

func (s *SQLStorage) quarantine(ctx context.Context, row taskRow, reason error) error {
	record := quarantinedRow{Row: row, Reason: reason.Error(), QuarantinedAt: time.Now().UTC()}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal quarantined row: %w", err)
	}

	if _, err := s.exec(ctx, `
INSERT INTO quarantined_tasks (id, raw, reason, quarantined_at_ms) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET raw = excluded.raw, reason = excluded.reason, quarantined_at_ms = excluded.quarantined_at_ms`,
		row.ID, string(data), record.Reason, record.QuarantinedAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to insert quarantined row: %w", err)
	}

	if s.archive != nil {
		filename := fmt.Sprintf("quarantine/%s-%s.json", row.ID, record.QuarantinedAt.Format("2006-01-02-15-04-05"))
		if err := s.archive.Store(ctx, filename, data); err != nil {
			// The row is already kept in quarantined_tasks.
			logrus.Errorf("Failed to archive quarantined row %s: %v", row.ID, err)
		}
	}

	if _, err := s.exec(ctx, `DELETE FROM tasks WHERE id = ?`, row.ID); err != nil {
		return fmt.Errorf("failed to remove quarantined row: %w", err)
	}
	return nil
}

// DeleteTask removes a task by id
func (s *SQLStorage) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// DeleteTasksByRequester removes every task of a requester, completed ones included
func (s *SQLStorage) DeleteTasksByRequester(ctx context.Context, pubkey string) (int, error) {
	n, err := s.exec(ctx, `DELETE FROM tasks WHERE requester_pubkey = ?`, pubkey)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks of %s: %w", pubkey, err)
	}
	return n, nil
}

// DeleteTaskByRequesterAndTarget removes the tasks pairing a requester with a target event
func (s *SQLStorage) DeleteTaskByRequesterAndTarget(ctx context.Context, pubkey, eventID string) (int, error) {
	n, err := s.exec(ctx, `DELETE FROM tasks WHERE requester_pubkey = ? AND target_event_id = ?`, pubkey, eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete task of %s for %s: %w", pubkey, eventID, err)
	}
	return n, nil
}

// FindTasksByRequesterAndTarget returns the active tasks pairing a requester with a target event
func (s *SQLStorage) FindTasksByRequesterAndTarget(ctx context.Context, pubkey, eventID string) ([]models.Task, error) {
	tasks, malformed, err := s.queryTasks(ctx,
		selectTaskColumns+` WHERE requester_pubkey = ? AND target_event_id = ? AND repetitions > 0`, pubkey, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to find tasks of %s for %s: %w", pubkey, eventID, err)
	}
	logMalformed(malformed)
	return tasks, nil
}

// FindTasksByRequester returns the active tasks of a requester
func (s *SQLStorage) FindTasksByRequester(ctx context.Context, pubkey string) ([]models.Task, error) {
	tasks, malformed, err := s.queryTasks(ctx,
		selectTaskColumns+` WHERE requester_pubkey = ? AND repetitions > 0`, pubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to find tasks of %s: %w", pubkey, err)
	}
	logMalformed(malformed)
	return tasks, nil
}

func logMalformed(malformed []malformedRow) {
	for _, m := range malformed {
		logrus.WithField("task_id", m.row.ID).Warnf("Skipping malformed task row: %v", m.err)
	}
}

// CountActiveTasks returns how many tasks still have repetitions left
func (s *SQLStorage) CountActiveTasks(ctx context.Context) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM tasks WHERE repetitions > 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return n, nil
}

// DeleteCompletedTasks purges rows left behind with no repetitions
func (s *SQLStorage) DeleteCompletedTasks(ctx context.Context) (int, error) {
	n, err := s.exec(ctx, `DELETE FROM tasks WHERE repetitions <= 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed tasks: %w", err)
	}
	return n, nil
}

// LogMention appends a rate-log row
func (s *SQLStorage) LogMention(ctx context.Context, pubkey string, at time.Time) error {
	if _, err := s.exec(ctx, `INSERT INTO mention_logs (pubkey, logged_at_ms) VALUES (?, ?)`, pubkey, at.UnixMilli()); err != nil {
		return fmt.Errorf("failed to log mention of %s: %w", pubkey, err)
	}
	return nil
}

// CountRecentMentions counts rate-log rows at or after windowStart
func (s *SQLStorage) CountRecentMentions(ctx context.Context, pubkey string, windowStart time.Time) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM mention_logs WHERE pubkey = ? AND logged_at_ms >= ?`,
		pubkey, windowStart.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to count mentions of %s: %w", pubkey, err)
	}
	return n, nil
}

// PruneMentionLog deletes rate-log rows older than cutoff
func (s *SQLStorage) PruneMentionLog(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.exec(ctx, `DELETE FROM mention_logs WHERE logged_at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune mention log: %w", err)
	}
	return n, nil
}

// GetUserTaskCounter returns the high-frequency task counter of a requester
func (s *SQLStorage) GetUserTaskCounter(ctx context.Context, pubkey string) (int, error) {
	n, err := s.count(ctx, `SELECT high_frequency_count FROM user_task_counts WHERE pubkey = ?`, pubkey)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read task counter of %s: %w", pubkey, err)
	}
	return n, nil
}

// IncrementUserTaskCounter adds one to the high-frequency task counter
func (s *SQLStorage) IncrementUserTaskCounter(ctx context.Context, pubkey string) error {
	_, err := s.exec(ctx, `
INSERT INTO user_task_counts (pubkey, high_frequency_count) VALUES (?, 1)
ON CONFLICT(pubkey) DO UPDATE SET high_frequency_count = user_task_counts.high_frequency_count + 1`, pubkey)
	if err != nil {
		return fmt.Errorf("failed to increment task counter of %s: %w", pubkey, err)
	}
	return nil
}

// DecrementUserTaskCounter subtracts one, never going below zero
func (s *SQLStorage) DecrementUserTaskCounter(ctx context.Context, pubkey string) error {
	_, err := s.exec(ctx, `
UPDATE user_task_counts SET high_frequency_count = high_frequency_count - 1
WHERE pubkey = ? AND high_frequency_count > 0`, pubkey)
	if err != nil {
		return fmt.Errorf("failed to decrement task counter of %s: %w", pubkey, err)
	}
	return nil
}

// IsMentionProcessed reports whether a mention id was already handled
func (s *SQLStorage) IsMentionProcessed(ctx context.Context, mentionID string) (bool, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM processed_mentions WHERE mention_id = ?`, mentionID)
	if err != nil {
		return false, fmt.Errorf("failed to check mention %s: %w", mentionID, err)
	}
	return n > 0, nil
}

// MarkMentionProcessed records the outcome of a mention. The first record wins.
func (s *SQLStorage) MarkMentionProcessed(ctx context.Context, record models.ProcessedMention) error {
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now()
	}

	_, err := s.exec(ctx, `
INSERT INTO processed_mentions (mention_id, pubkey, target_event_id, outcome, interval_name, repetitions, processed_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(mention_id) DO NOTHING`,
		record.MentionID, record.PubKey, record.TargetEventID, string(record.Outcome), string(record.Interval),
		record.Repetitions, record.ProcessedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to mark mention %s processed: %w", record.MentionID, err)
	}
	return nil
}

// PruneProcessedMentions forgets processed mentions older than cutoff
func (s *SQLStorage) PruneProcessedMentions(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.exec(ctx, `DELETE FROM processed_mentions WHERE processed_at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed mentions: %w", err)
	}
	return n, nil
}

// CountOutcomesSince groups processed mentions by outcome
func (s *SQLStorage) CountOutcomesSince(ctx context.Context, since time.Time) (map[models.Outcome]int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT outcome, COUNT(*) FROM processed_mentions WHERE processed_at_ms >= ? GROUP BY outcome`),
		since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[models.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}
