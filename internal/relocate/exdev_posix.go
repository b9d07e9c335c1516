//go:build !windows

package relocate

import "syscall"

// syscallEXDEV returns the platform's cross-device-link errno.
func syscallEXDEV() error {
	return syscall.EXDEV
}
