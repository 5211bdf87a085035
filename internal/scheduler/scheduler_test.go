package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omegacore/omegad/internal/channels"
	"github.com/omegacore/omegad/internal/completion"
	"github.com/omegacore/omegad/internal/memory"
)

func openTestStore(t *testing.T) *memory.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := memory.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type stubBackend struct {
	out *completion.OutgoingMessage
	err error
}

func (b *stubBackend) Complete(ctx context.Context, turn completion.TurnRequest) (*completion.OutgoingMessage, error) {
	return b.out, b.err
}

func TestDeliverReminder_UnregisteredChannelLeavesPending(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	mgr := channels.NewManager(nil)

	task, _, err := store.CreateTask(ctx, memory.Task{
		SenderID: "u1", Channel: "telegram", ChatID: "c1",
		Kind: "reminder", Description: "take out the trash", RunAt: time.Now().Add(-time.Minute),
		Status: "pending",
	})
	require.NoError(t, err)

	// No channel registered — scheduler must skip, not panic, and leave
	// the task pending for the next cycle.
	sched := New(store, mgr, &stubBackend{}, time.Hour)
	sched.deliverReminder(ctx, task)

	due, err := store.DueTasks(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
}

func TestExecuteAction_SuccessCompletesTask(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	mgr := channels.NewManager(nil)

	task, _, err := store.CreateTask(ctx, memory.Task{
		SenderID: "u1", Channel: "telegram", ChatID: "c1",
		Kind: "action", Description: "summarize today's notes", RunAt: time.Now().Add(-time.Minute),
		Status: "pending",
	})
	require.NoError(t, err)

	backend := &stubBackend{out: &completion.OutgoingMessage{Text: "Done. [[ACTION_OUTCOME status=success]]"}}
	sched := New(store, mgr, backend, time.Hour)
	sched.executeAction(ctx, task)

	due, err := store.DueTasks(ctx)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestExecuteAction_FailedReschedules(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	mgr := channels.NewManager(nil)

	task, _, err := store.CreateTask(ctx, memory.Task{
		SenderID: "u1", Channel: "telegram", ChatID: "c1",
		Kind: "action", Description: "deploy the thing", RunAt: time.Now().Add(-time.Minute),
		Status: "pending",
	})
	require.NoError(t, err)

	backend := &stubBackend{out: &completion.OutgoingMessage{Text: "[[ACTION_OUTCOME status=failed; reason=no access]]"}}
	sched := New(store, mgr, backend, time.Hour)
	sched.executeAction(ctx, task)

	tasks, err := store.TasksForSender(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, 1, tasks[0].Retries)
	require.True(t, tasks[0].RunAt.After(time.Now()))
}
