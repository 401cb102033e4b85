package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// SpawnOverlay starts the overlay surface as a detached process via the
// hidden `overlay-surface` subcommand of our own binary. The surface has an
// independent lifecycle from the daemon: it survives daemon restarts and is
// respawned by the keep-alive loop if it dies mid-enforcement.
func SpawnOverlay(socketPath string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(executable, "overlay-surface", "--socket", socketPath)

	// Detach: new session, no inherited stdio.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	return cmd.Start()
}
