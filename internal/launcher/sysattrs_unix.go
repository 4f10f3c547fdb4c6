//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// detach starts the child in a new session so it has no controlling
// terminal of ours and survives our exit.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// newConsole has no separate window concept here; the child is detached.
func newConsole(cmd *exec.Cmd) { detach(cmd) }
