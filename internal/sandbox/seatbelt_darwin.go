//go:build darwin

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Wrap re-execs cmd under sandbox-exec with a synthesized Seatbelt profile
// that denies writes outside the workspace (and the configured extra-write
// prefixes) while leaving reads unrestricted at the OS layer — reads are
// still gated by CheckRead before a tool call reaches here.
func (m *manager) Wrap(cmd *exec.Cmd) error {
	if m.backend != "seatbelt" {
		return nil
	}
	profile, err := m.seatbeltProfile()
	if err != nil {
		return err
	}
	f, err := os.CreateTemp("", "omegad-sandbox-*.sb")
	if err != nil {
		return fmt.Errorf("sandbox: write seatbelt profile: %w", err)
	}
	if _, err := f.WriteString(profile); err != nil {
		f.Close()
		return fmt.Errorf("sandbox: write seatbelt profile: %w", err)
	}
	f.Close()

	origPath := cmd.Path
	origArgs := cmd.Args
	cmd.Path, err = exec.LookPath("sandbox-exec")
	if err != nil {
		// sandbox-exec missing (unusual but seen on some stripped CI images):
		// fall back to the code-level blocklist alone.
		cmd.Path = origPath
		cmd.Args = origArgs
		return nil
	}
	cmd.Args = append([]string{"sandbox-exec", "-f", f.Name()}, origArgs...)
	return nil
}

func (m *manager) seatbeltProfile() (string, error) {
	var deny strings.Builder
	deny.WriteString("(version 1)\n(allow default)\n")
	for _, prefix := range defaultSystemDenyPrefixes {
		fmt.Fprintf(&deny, "(deny file-write* (subpath %q))\n", prefix)
	}
	for _, extra := range m.cfg.ExtraDeny {
		fmt.Fprintf(&deny, "(deny file-write* (subpath %q))\n", filepath.Join(m.wsReal, extra))
	}
	fmt.Fprintf(&deny, "(allow file-write* (subpath %q))\n", m.wsReal)
	for _, extra := range m.cfg.ExtraWriteAllow {
		abs, err := filepath.Abs(extra)
		if err != nil {
			continue
		}
		fmt.Fprintf(&deny, "(allow file-write* (subpath %q))\n", abs)
	}
	return deny.String(), nil
}
