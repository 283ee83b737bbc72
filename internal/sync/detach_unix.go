//go:build unix

package sync

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so a terminal SIGINT
// aimed at the parent does not reach it
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}
