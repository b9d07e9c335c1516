//go:build !windows

package installer

import (
	"os"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
)

func createCurrentPointer(target, link string) error {
	if err := os.Symlink(target, link); err != nil {
		return apierr.Wrap(apierr.CodeCurrentLinkFailed, "failed to create current symlink", err)
	}
	return nil
}
