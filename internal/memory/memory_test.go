package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationScoping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)

	b, err := s.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)
	require.Equal(t, a.ID, b.ID, "same channel/sender/project should resume the same conversation")

	c, err := s.LookupOrCreate(ctx, "telegram", "u1", "project-x")
	require.NoError(t, err)
	require.NotEqual(t, a.ID, c.ID, "a different project must get its own conversation")

	d, err := s.LookupOrCreate(ctx, "whatsapp", "u1", "")
	require.NoError(t, err)
	require.NotEqual(t, a.ID, d.ID, "a different channel must get its own conversation")
}

func TestConversationScoping_IdleCreatesFresh(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)

	stale := time.Now().Add(-(IdleThreshold + time.Minute)).UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `UPDATE conversations SET last_activity_at=? WHERE id=?`, stale, a.ID)
	require.NoError(t, err)

	b, err := s.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	var status string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT status FROM conversations WHERE id=?`, a.ID).Scan(&status))
	require.Equal(t, "closed", status)
}

func TestActiveIdleConversations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fresh, err := s.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)

	stalled, err := s.LookupOrCreate(ctx, "telegram", "u2", "")
	require.NoError(t, err)
	stale := time.Now().Add(-(IdleThreshold + time.Minute)).UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `UPDATE conversations SET last_activity_at=? WHERE id=?`, stale, stalled.ID)
	require.NoError(t, err)

	idle, err := s.ActiveIdleConversations(ctx)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	require.Equal(t, stalled.ID, idle[0].ID)
	require.NotEqual(t, fresh.ID, idle[0].ID)
}

func TestCloseWithSummary_FeedsRecentSummaries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)

	require.NoError(t, s.CloseWithSummary(ctx, conv.ID, "discussed the quarterly budget"))

	summaries, err := s.RecentSummaries(ctx, "telegram", "u1", "", 5)
	require.NoError(t, err)
	require.Equal(t, []string{"discussed the quarterly budget"}, summaries)

	var status string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT status FROM conversations WHERE id=?`, conv.ID).Scan(&status))
	require.Equal(t, "closed", status)
}

func TestTaskDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := Task{SenderID: "u1", Channel: "telegram", ChatID: "c1", Description: "remind me to call mom", RunAt: time.Now().Add(time.Hour)}
	t1, created, err := s.CreateTask(ctx, base)
	require.NoError(t, err)
	require.True(t, created)

	t2, created, err := s.CreateTask(ctx, base)
	require.NoError(t, err)
	require.False(t, created, "exact duplicate within the dedup window must be swallowed")
	require.Equal(t, t1.ID, t2.ID)

	similar := base
	similar.Description = "remind me to call mom tonight please"
	t3, created, err := s.CreateTask(ctx, similar)
	require.NoError(t, err)
	require.False(t, created, "high word-overlap description should also dedup")
	require.Equal(t, t1.ID, t3.ID)

	distinct := base
	distinct.Description = "buy groceries for the week"
	_, created, err = s.CreateTask(ctx, distinct)
	require.NoError(t, err)
	require.True(t, created, "an unrelated description must not dedup")
}

func TestTaskDedup_OutsideWindowCreatesNew(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := Task{SenderID: "u1", Channel: "telegram", ChatID: "c1", Description: "remind me to call mom", RunAt: time.Now().Add(time.Hour)}
	t1, _, err := s.CreateTask(ctx, base)
	require.NoError(t, err)

	old := time.Now().Add(-(DedupWindow + time.Minute)).UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `UPDATE tasks SET created_at=? WHERE id=?`, old, t1.ID)
	require.NoError(t, err)

	t2, created, err := s.CreateTask(ctx, base)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, t1.ID, t2.ID)
}

func TestRecurrenceAdvance(t *testing.T) {
	friday := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC) // a Friday
	next := advanceRecurrence(friday, "weekday")
	require.Equal(t, time.Monday, next.Weekday(), "weekday recurrence must skip the weekend at completion time")

	daily := advanceRecurrence(friday, "daily")
	require.Equal(t, time.Saturday, daily.Weekday(), "plain daily recurrence does not skip weekends")

	weekly := advanceRecurrence(friday, "weekly")
	require.Equal(t, 7*24*time.Hour, weekly.Sub(friday))

	custom := advanceRecurrence(friday, "3h")
	require.Equal(t, 3*time.Hour, custom.Sub(friday))
}

func TestCompleteTask_Recurring(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, _, err := s.CreateTask(ctx, Task{
		SenderID: "u1", Channel: "telegram", ChatID: "c1",
		Description: "standup", RunAt: time.Now(), Recurrence: "daily",
	})
	require.NoError(t, err)

	require.NoError(t, s.CompleteTask(ctx, task.ID))

	var status string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id=?`, task.ID).Scan(&status))
	require.Equal(t, "pending", status, "a recurring task stays pending after completion, just rescheduled")
}

func TestFailTask_RetriesThenFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, _, err := s.CreateTask(ctx, Task{
		SenderID: "u1", Channel: "telegram", ChatID: "c1",
		Description: "run backup", RunAt: time.Now(), MaxRetries: 2,
	})
	require.NoError(t, err)

	require.NoError(t, s.FailTask(ctx, task.ID))
	var status string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id=?`, task.ID).Scan(&status))
	require.Equal(t, "pending", status)

	require.NoError(t, s.FailTask(ctx, task.ID))
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id=?`, task.ID).Scan(&status))
	require.Equal(t, "failed", status)
}

func TestRecall(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.LookupOrCreate(ctx, "telegram", "u1", "")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, "user", "my favorite language is Go", nil)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, "user", "unrelated message about weather", nil)
	require.NoError(t, err)

	matches, err := s.Recall(ctx, "u1", "favorite language")
	require.NoError(t, err)
	require.NotEmpty(t, matches)
}

func TestPurgeFactsKeepsSystemKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFact(ctx, "u1", "profile.language", "en"))
	require.NoError(t, s.UpsertFact(ctx, "u1", "favorite_color", "blue"))

	_, err := s.PurgeFacts(ctx, "u1")
	require.NoError(t, err)

	facts, err := s.Facts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, "profile.language", facts[0].Key)
}
