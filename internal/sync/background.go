package sync

import (
	"os"
	"os/exec"
	"path/filepath"
)

// BackgroundFlushCommand is the hidden CLI command run by SpawnBackgroundFlush
const BackgroundFlushCommand = "_internal_background_flush"

// SpawnBackgroundFlush starts a detached copy of the current executable that
// flushes the queue, so a short-lived command can exit right after enqueueing.
// extraArgs are appended to the hidden command (for example --config).
func SpawnBackgroundFlush(extraArgs ...string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}

	// Resolve symlinks
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return err
	}

	args := append([]string{BackgroundFlushCommand}, extraArgs...)
	cmd := exec.Command(executable, args...)

	detach(cmd)

	// Redirect all I/O to the null device
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	// The child is never waited on; release its process handle.
	return cmd.Process.Release()
}
