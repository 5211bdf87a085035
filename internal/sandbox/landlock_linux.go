//go:build linux

package sandbox

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"unsafe"
)

// Wrap, when the Landlock backend is selected and the kernel supports
// Landlock, adds OMEGAD_LANDLOCK_WORKSPACE=<workspace> to cmd's
// environment and changes nothing else. No Landlock ruleset is applied to
// the subprocess: nothing in this module reads that variable or calls
// RestrictSelf, so on Linux confinement is the code-level blocklist alone.
//
// On kernels without Landlock (pre-5.13), Wrap leaves cmd untouched.
func (m *manager) Wrap(cmd *exec.Cmd) error {
	if m.backend != "landlock" {
		return nil
	}
	if !landlockAvailable() {
		return nil
	}
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "OMEGAD_LANDLOCK_WORKSPACE="+m.wsReal)
	return nil
}

const (
	sysLandlockCreateRuleset  = 444
	sysLandlockAddRule        = 445
	sysLandlockRestrictSelf   = 446
	landlockRuleTypePathBeneath = 1
	landlockAccessFsWriteFile = 1 << 1
	landlockAccessFsReadFile  = 1 << 0
	landlockAccessFsReadDir   = 1 << 1
)

type landlockRulesetAttr struct {
	HandledAccessFs uint64
}

type landlockPathBeneathAttr struct {
	AllowedAccess uint64
	ParentFd      int32
}

// landlockAvailable probes for kernel Landlock support without mutating any
// process state.
func landlockAvailable() bool {
	attr := landlockRulesetAttr{HandledAccessFs: landlockAccessFsReadFile}
	fd, _, errno := syscall.Syscall(sysLandlockCreateRuleset, uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr), 0)
	if errno != 0 {
		return false
	}
	syscall.Close(int(fd))
	return true
}

// RestrictSelf restricts the calling process's file reads, directory reads
// and file writes to paths beneath allowedRoot. No code in this module
// calls it.
func RestrictSelf(allowedRoot string) error {
	attr := landlockRulesetAttr{
		HandledAccessFs: landlockAccessFsReadFile | landlockAccessFsReadDir | landlockAccessFsWriteFile,
	}
	rulesetFd, _, errno := syscall.Syscall(sysLandlockCreateRuleset, uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr), 0)
	if errno != 0 {
		return errno
	}
	defer syscall.Close(int(rulesetFd))

	root, err := filepath.Abs(allowedRoot)
	if err != nil {
		return err
	}
	fd, err := syscall.Open(root, syscall.O_PATH|syscall.O_DIRECTORY, 0)
	if err != nil {
		return err
	}
	defer syscall.Close(fd)

	pathAttr := landlockPathBeneathAttr{
		AllowedAccess: attr.HandledAccessFs,
		ParentFd:      int32(fd),
	}
	if _, _, errno := syscall.Syscall6(sysLandlockAddRule, rulesetFd, landlockRuleTypePathBeneath,
		uintptr(unsafe.Pointer(&pathAttr)), 0, 0, 0); errno != 0 {
		return errno
	}

	if _, _, errno := syscall.Syscall(sysLandlockRestrictSelf, rulesetFd, 0, 0); errno != 0 {
		return errno
	}
	return nil
}
