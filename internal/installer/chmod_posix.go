//go:build !windows

package installer

import (
	"os"
	"path/filepath"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"golang.org/x/sys/unix"
)

// fixExecutableBits ensures bin/oc-bridge and bin/midi-studio-loader carry
// the executable bit (§4.F step 4). Uses unix.Chmod directly rather than
// os.Chmod so the mode bits are set with a single raw syscall instead of
// going through Go's os.FileMode translation layer.
func fixExecutableBits(versionDir string) error {
	for _, name := range []string{bridgeBinName, loaderBinName} {
		path := filepath.Join(versionDir, "bin", name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := unix.Chmod(path, 0o755); err != nil {
			return apierr.Wrap(apierr.CodeIOWrite, "failed to set executable bit on "+name, err)
		}
	}
	return nil
}
