package sandbox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSandboxWriteGate(t *testing.T) {
	ws := t.TempDir()
	m, err := NewManager(Config{WorkspaceRoot: ws})
	require.NoError(t, err)

	require.NoError(t, m.CheckWrite(filepath.Join(ws, "notes.txt")))

	require.Error(t, m.CheckWrite("/etc/passwd"))
	require.Error(t, m.CheckWrite(filepath.Join(ws, "..", "outside.txt")))
}

func TestSandboxWriteGate_ExtraDenySubtree(t *testing.T) {
	ws := t.TempDir()
	m, err := NewManager(Config{WorkspaceRoot: ws, ExtraDeny: []string{"secrets"}})
	require.NoError(t, err)

	require.Error(t, m.CheckWrite(filepath.Join(ws, "secrets", "keys.pem")))
	require.NoError(t, m.CheckWrite(filepath.Join(ws, "public", "readme.md")))
}

func TestSandboxWriteGate_ExtraWriteAllowOutsideWorkspace(t *testing.T) {
	ws := t.TempDir()
	extra := t.TempDir()
	m, err := NewManager(Config{WorkspaceRoot: ws, ExtraWriteAllow: []string{extra}})
	require.NoError(t, err)

	require.NoError(t, m.CheckWrite(filepath.Join(extra, "shared.txt")))

	other := t.TempDir()
	require.Error(t, m.CheckWrite(filepath.Join(other, "shared.txt")))
}

func TestSandboxReadGate_UsesExtraReadAllowNotWriteAllow(t *testing.T) {
	ws := t.TempDir()
	extra := t.TempDir()
	m, err := NewManager(Config{WorkspaceRoot: ws, ExtraReadAllow: []string{extra}})
	require.NoError(t, err)

	require.NoError(t, m.CheckRead(filepath.Join(extra, "shared.txt")))
	require.Error(t, m.CheckWrite(filepath.Join(extra, "shared.txt")))
}

func TestNewManager_BackendOffReturnsErrSandboxDisabled(t *testing.T) {
	ws := t.TempDir()
	m, err := NewManager(Config{WorkspaceRoot: ws, Backend: "off"})
	require.ErrorIs(t, err, ErrSandboxDisabled)
	require.Equal(t, "off", m.Backend())
}
