// Package procutil provides the small set of cross-platform process-control
// primitives the bridge supervisor needs: detached spawning,
// argv-aware matching, and killing. Grounded on the mcastrelay server
// command's goroutine-per-subprocess lifecycle, generalized to host OS
// process management rather than an in-process relay.
package procutil

import (
	"os"
	"os/exec"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
)

// Handle is a running detached process.
type Handle struct {
	cmd *exec.Cmd
}

// PID returns the process id.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Kill terminates the process.
func (h *Handle) Kill() error {
	if err := h.cmd.Process.Kill(); err != nil {
		return apierr.Wrap(apierr.CodeProcessKillFailed, "", err)
	}
	return nil
}

// SpawnDetached starts execPath with args, detached from the parent's
// stdio (each of stdin/stdout/stderr connected to os.DevNull) and, on
// Windows, with console-window creation suppressed.
func SpawnDetached(execPath string, args []string) (*Handle, error) {
	cmd := exec.Command(execPath, args...)
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeIOExec, "failed to open null device", err)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	setDetachedAttrs(cmd)

	if err := cmd.Start(); err != nil {
		return nil, apierr.Wrap(apierr.CodeIOExec, "failed to spawn "+execPath, err)
	}
	return &Handle{cmd: cmd}, nil
}
