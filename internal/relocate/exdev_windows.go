//go:build windows

package relocate

import "syscall"

// errorNotSameDevice is Windows' ERROR_NOT_SAME_DEVICE (17), the rename
// failure mode that maps to POSIX EXDEV.
const errorNotSameDevice = 17

// syscallEXDEV returns the platform's cross-device-link errno.
func syscallEXDEV() error {
	return syscall.Errno(errorNotSameDevice)
}
