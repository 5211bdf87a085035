// Package sandbox confines what the completion backends' filesystem and
// shell tools may touch. On macOS, Seatbelt wraps every subprocess the tool
// executor spawns; on Linux no OS-level ruleset is applied (see Wrap in
// landlock_linux.go). A code-level path blocklist is checked on every
// read/write on every platform. Unlike a
// mode-switchable sandbox, confinement here is always on; Config only
// widens or narrows what is blocked.
package sandbox

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrSandboxDisabled is returned by NewManager when Backend is explicitly
// "off" in configuration (local development only; the code-level blocklist
// still applies through Manager.CheckWrite/CheckRead regardless).
var ErrSandboxDisabled = errors.New("sandbox: OS-level confinement disabled")

// Config describes the sandbox boundary for one workspace.
type Config struct {
	// WorkspaceRoot is the directory tool calls are confined to.
	WorkspaceRoot string
	// Backend selects the OS-level confinement mechanism: "auto" (default),
	// "seatbelt", "landlock", or "off".
	Backend string
	// ExtraReadAllow/ExtraWriteAllow add path prefixes outside WorkspaceRoot
	// that tools may access (e.g. shared skill directories).
	ExtraReadAllow  []string
	ExtraWriteAllow []string
	// ExtraDeny adds path prefixes, relative to WorkspaceRoot, that are
	// always denied even though they are inside the workspace.
	ExtraDeny []string
}

// Manager enforces the sandbox boundary for a single workspace.
type Manager interface {
	// CheckRead returns an error if path must not be read.
	CheckRead(path string) error
	// CheckWrite returns an error if path must not be written.
	CheckWrite(path string) error
	// Wrap adapts cmd so that it runs inside the OS-level confinement
	// layer (Seatbelt profile / Landlock ruleset). It is a no-op on
	// platforms or backends where no OS-level layer is available; the
	// code-level blocklist in CheckRead/CheckWrite still applies.
	Wrap(cmd *exec.Cmd) error
	// Backend reports which confinement mechanism is active.
	Backend() string
}

// defaultSystemDenyPrefixes blocks writes to paths whose compromise would
// affect the host beyond the workspace, even when the caller is otherwise
// within the workspace boundary or using an allowed extra prefix.
var defaultSystemDenyPrefixes = []string{
	"/etc", "/bin", "/sbin", "/usr/bin", "/usr/sbin", "/usr/lib",
	"/boot", "/dev", "/proc", "/sys", "/root/.ssh", "/var/run",
	"/System", "/Library", "/private/etc", "/private/var/db",
}

type manager struct {
	cfg     Config
	backend string
	wsReal  string
}

// NewManager builds a Manager for the given config, selecting an OS-level
// backend by runtime.GOOS unless one is pinned in cfg.Backend.
func NewManager(cfg Config) (Manager, error) {
	ws, err := filepath.Abs(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve workspace: %w", err)
	}
	m := &manager{cfg: cfg, wsReal: ws}

	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}
	if backend == "off" {
		m.backend = "off"
		return m, ErrSandboxDisabled
	}
	if backend == "auto" {
		switch runtime.GOOS {
		case "darwin":
			backend = "seatbelt"
		case "linux":
			backend = "landlock"
		default:
			backend = "blocklist-only"
		}
	}
	m.backend = backend
	return m, nil
}

func (m *manager) Backend() string { return m.backend }

func (m *manager) CheckRead(path string) error {
	return m.checkPath(path, m.cfg.ExtraReadAllow, false)
}

func (m *manager) CheckWrite(path string) error {
	return m.checkPath(path, m.cfg.ExtraWriteAllow, true)
}

func (m *manager) checkPath(path string, extraAllow []string, isWrite bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("sandbox: resolve path: %w", err)
	}
	clean := filepath.Clean(abs)

	for _, deny := range m.cfg.ExtraDeny {
		if withinPrefix(clean, filepath.Join(m.wsReal, deny)) {
			return fmt.Errorf("sandbox: path %q is in a denied workspace subtree", path)
		}
	}

	if isWrite {
		for _, prefix := range defaultSystemDenyPrefixes {
			if withinPrefix(clean, prefix) {
				return fmt.Errorf("sandbox: writes to %q are never permitted", prefix)
			}
		}
	}

	if withinPrefix(clean, m.wsReal) {
		return nil
	}
	for _, prefix := range extraAllow {
		absPrefix, err := filepath.Abs(prefix)
		if err != nil {
			continue
		}
		if withinPrefix(clean, absPrefix) {
			return nil
		}
	}
	return fmt.Errorf("sandbox: path %q is outside the workspace boundary", path)
}

func withinPrefix(path, prefix string) bool {
	prefix = filepath.Clean(prefix)
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}
