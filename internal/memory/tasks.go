package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/omegacore/omegad/pkg/identifiers"
)

// Task is spec §3's Scheduled task entity: a reminder or action the
// scheduler loop will eventually run.
type Task struct {
	ID          string
	SenderID    string
	Channel     string
	ChatID      string
	Project     string
	Kind        string // "reminder" or "action"
	Description string
	RunAt       time.Time
	Recurrence  string // "", "daily", "weekly", "weekday", or a Go duration like "24h"
	Status      string // "pending", "completed", "cancelled", "failed"
	Retries     int
	MaxRetries  int
}

// DedupWindow bounds how recently a similar task must have been created for
// CreateTask to treat a new request as a duplicate rather than a fresh task.
const DedupWindow = 30 * time.Minute

// MaxTaskRetries is the default retry ceiling an action task gets before
// FailTask gives up and marks it permanently failed.
const MaxTaskRetries = 3

// RetryBackoff is how far FailTask reschedules a retried action.
const RetryBackoff = 2 * time.Minute

// wordOverlapThreshold is the fraction of the new description's words that
// must already appear in a candidate's description for CreateTask to treat
// them as duplicates.
const wordOverlapThreshold = 0.5

// CreateTask inserts a new scheduled task unless an exact-text or ≥50%
// word-overlap duplicate was created for the same sender within
// DedupWindow, in which case it returns the existing task and ok=false.
func (s *Store) CreateTask(ctx context.Context, t Task) (*Task, bool, error) {
	cutoff := time.Now().Add(-DedupWindow).UTC().Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, channel, chat_id, project, kind, description, run_at, recurrence, status, retries, max_retries
		FROM tasks WHERE sender_id=? AND status='pending' AND created_at >= ?`, t.SenderID, cutoff)
	if err != nil {
		return nil, false, fmt.Errorf("memory: dedup query: %w", err)
	}
	candidates, err := scanTasks(rows)
	if err != nil {
		return nil, false, err
	}
	for _, c := range candidates {
		if c.Description == t.Description || wordOverlap(c.Description, t.Description) >= wordOverlapThreshold {
			return c, false, nil
		}
	}

	id := identifiers.New()
	ts := now()
	maxRetries := t.MaxRetries
	if maxRetries <= 0 {
		maxRetries = MaxTaskRetries
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks(id, sender_id, channel, chat_id, project, kind, description, run_at, recurrence, status, retries, max_retries, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?, 'pending', 0, ?, ?, ?)`,
		id, t.SenderID, t.Channel, t.ChatID, t.Project, t.Kind, t.Description,
		t.RunAt.UTC().Format(time.RFC3339), t.Recurrence, maxRetries, ts, ts)
	if err != nil {
		return nil, false, fmt.Errorf("memory: create task: %w", err)
	}
	t.ID = id
	t.Status = "pending"
	t.MaxRetries = maxRetries
	return &t, true, nil
}

// wordOverlap returns the fraction of b's words that also appear in a,
// case-insensitive, ignoring punctuation.
func wordOverlap(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := strings.Fields(strings.ToLower(b))
	if len(wordsB) == 0 {
		return 0
	}
	shared := 0
	seen := map[string]bool{}
	for _, w := range wordsB {
		w = strings.Trim(w, ".,!?;:")
		if seen[w] {
			continue
		}
		seen[w] = true
		if wordsA[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(seen))
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[strings.Trim(w, ".,!?;:")] = true
	}
	return out
}

// DueTasks returns every pending task whose run_at has passed, for the
// scheduler loop's poll tick.
func (s *Store) DueTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, channel, chat_id, project, kind, description, run_at, recurrence, status, retries, max_retries
		FROM tasks WHERE status='pending' AND run_at <= ? ORDER BY run_at ASC`, now())
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// CancelTask marks a task cancelled (the /cancel command and CANCEL_TASK
// marker's effect). Returns sql.ErrNoRows if the task doesn't exist.
func (s *Store) CancelTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status='cancelled', updated_at=? WHERE id=? AND status='pending'`, now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateTaskDescription edits a pending task's description in place (the
// UPDATE_TASK marker's effect).
func (s *Store) UpdateTaskDescription(ctx context.Context, id, description string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET description=?, updated_at=? WHERE id=?`, description, now(), id)
	return err
}

// CompleteTask marks a one-off task completed, or advances a recurring
// task's run_at and leaves it pending. Recurrence advance applies the
// weekday rule at completion time, not at original scheduling time: if the
// newly computed run_at lands on Saturday or Sunday, it rolls forward to
// the following Monday at the same time of day.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	var recurrence, runAtStr string
	if err := s.db.QueryRowContext(ctx, `SELECT recurrence, run_at FROM tasks WHERE id=?`, id).Scan(&recurrence, &runAtStr); err != nil {
		return fmt.Errorf("memory: complete task: %w", err)
	}

	if recurrence == "" {
		_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status='completed', updated_at=? WHERE id=?`, now(), id)
		return err
	}

	next := advanceRecurrence(parseTime(runAtStr), recurrence)
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET run_at=?, retries=0, status='pending', updated_at=? WHERE id=?`,
		next.UTC().Format(time.RFC3339), now(), id)
	return err
}

// advanceRecurrence computes the next run time for a recurring task. A
// bare duration string ("24h") is interpreted literally; "daily" and
// "weekly" are shorthand for 24h/7*24h; "weekday" behaves like "daily" but
// skips Saturday/Sunday landings forward to Monday.
func advanceRecurrence(from time.Time, recurrence string) time.Time {
	interval := 24 * time.Hour
	weekdayOnly := false

	switch recurrence {
	case "daily":
		interval = 24 * time.Hour
	case "weekly":
		interval = 7 * 24 * time.Hour
	case "weekday":
		interval = 24 * time.Hour
		weekdayOnly = true
	default:
		if d, err := time.ParseDuration(recurrence); err == nil {
			interval = d
		}
	}

	next := from.Add(interval)
	if weekdayOnly {
		for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
			next = next.AddDate(0, 0, 1)
		}
	}
	return next
}

// FailTask records a failed action-task attempt. Below MaxRetries it
// reschedules RetryBackoff in the future and bumps the retry counter;
// at MaxRetries it marks the task permanently failed.
func (s *Store) FailTask(ctx context.Context, id string) error {
	var retries, maxRetries int
	if err := s.db.QueryRowContext(ctx, `SELECT retries, max_retries FROM tasks WHERE id=?`, id).Scan(&retries, &maxRetries); err != nil {
		return fmt.Errorf("memory: fail task: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = MaxTaskRetries
	}
	retries++
	if retries >= maxRetries {
		_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status='failed', retries=?, updated_at=? WHERE id=?`, retries, now(), id)
		return err
	}
	nextRun := time.Now().Add(RetryBackoff).UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET retries=?, run_at=?, updated_at=? WHERE id=?`, retries, nextRun, now(), id)
	return err
}

// TasksForSender lists pending tasks for the /tasks command.
func (s *Store) TasksForSender(ctx context.Context, senderID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, channel, chat_id, project, kind, description, run_at, recurrence, status, retries, max_retries
		FROM tasks WHERE sender_id=? AND status='pending' ORDER BY run_at ASC`, senderID)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// AppendOutcome records an Outcome entity tied to a task (action execution
// results and ACTION_OUTCOME marker payloads).
func (s *Store) AppendOutcome(ctx context.Context, taskID, content string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO outcomes(id, task_id, content, created_at) VALUES (?,?,?,?)`,
		identifiers.New(), taskID, content, now())
	return err
}

// RecentOutcomes returns the most recent outcomes recorded for a task.
func (s *Store) RecentOutcomes(ctx context.Context, taskID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT content FROM outcomes WHERE task_id=? ORDER BY created_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentOutcomesAll returns the most recent outcomes recorded across every
// task, newest first, used by the heartbeat loop's enrichment context
// (spec §4.7: "recent outcomes").
func (s *Store) RecentOutcomesAll(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT content FROM outcomes ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		var t Task
		var runAt string
		if err := rows.Scan(&t.ID, &t.SenderID, &t.Channel, &t.ChatID, &t.Project, &t.Kind, &t.Description, &runAt, &t.Recurrence, &t.Status, &t.Retries, &t.MaxRetries); err != nil {
			return nil, err
		}
		t.RunAt = parseTime(runAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ErrTaskNotFound is returned by operations addressing a task id that
// doesn't exist or isn't in the expected state.
var ErrTaskNotFound = errors.New("memory: task not found")
