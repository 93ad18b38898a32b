//go:build unix

package upgrade

import (
	"os/exec"
	"syscall"
)

// detach starts cmd in a new session, away from the controller's process group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
