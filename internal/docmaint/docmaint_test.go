package docmaint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMaintainer(t *testing.T) (*Maintainer, string, string, string) {
	t.Helper()
	root := t.TempDir()
	promptsDir := filepath.Join(root, "prompts")
	projectsDir := filepath.Join(root, "projects")
	workspace := filepath.Join(root, "workspace")
	require.NoError(t, os.MkdirAll(promptsDir, 0o755))
	require.NoError(t, os.MkdirAll(projectsDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "inbox"), 0o755))

	m, err := New(promptsDir, projectsDir, workspace, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { m.watcher.Close() })
	return m, promptsDir, projectsDir, workspace
}

func TestProjectsWithOwnChecklist(t *testing.T) {
	m, _, projectsDir, _ := newTestMaintainer(t)

	require.NoError(t, os.MkdirAll(filepath.Join(projectsDir, "my-project"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectsDir, "my-project", "HEARTBEAT.md"), []byte("## Tasks\n- a\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(projectsDir, "no-checklist"), 0o755))

	owned := m.projectsWithOwnChecklist()
	require.True(t, owned["my project"])
	require.False(t, owned["no checklist"])
}

func TestPruneInbox_RemovesOnlyStaleFiles(t *testing.T) {
	m, _, _, workspace := newTestMaintainer(t)
	inbox := filepath.Join(workspace, "inbox")

	fresh := filepath.Join(inbox, "fresh.jpg")
	stale := filepath.Join(inbox, "stale.jpg")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	old := time.Now().Add(-(inboxPruneAge + time.Hour))
	require.NoError(t, os.Chtimes(stale, old, old))

	m.pruneInbox()

	_, err := os.Stat(fresh)
	require.NoError(t, err, "fresh file must survive pruning")
	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err), "stale file must be pruned")
	require.Equal(t, 1, m.Stats().InboxPrunes)
}

func TestPruneInbox_MissingDirIsNoop(t *testing.T) {
	m, _, _, workspace := newTestMaintainer(t)
	require.NoError(t, os.RemoveAll(filepath.Join(workspace, "inbox")))

	m.pruneInbox()
	require.Equal(t, 0, m.Stats().InboxPrunes)
}

func TestReconcile_LogsNoPanicOnMissingGlobalChecklist(t *testing.T) {
	m, _, _, _ := newTestMaintainer(t)
	m.reconcile("irrelevant/path")
	require.Equal(t, 0, m.Stats().ChecklistSyncs, "no global checklist exists yet, so nothing should be counted")
}

func TestReconcile_CountsSyncWhenGlobalChecklistExists(t *testing.T) {
	m, promptsDir, projectsDir, _ := newTestMaintainer(t)

	require.NoError(t, os.WriteFile(filepath.Join(promptsDir, "HEARTBEAT.md"), []byte("## My Project\n- check logs\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(projectsDir, "my-project"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectsDir, "my-project", "HEARTBEAT.md"), []byte("## Tasks\n- a\n"), 0o644))

	m.reconcile(filepath.Join(promptsDir, "HEARTBEAT.md"))
	require.Equal(t, 1, m.Stats().ChecklistSyncs)
}
