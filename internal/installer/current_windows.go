//go:build windows

package installer

import (
	"os/exec"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
)

func createCurrentPointer(target, link string) error {
	cmd := exec.Command("cmd", "/C", "mklink", "/J", link, target)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return apierr.Wrap(apierr.CodeCurrentLinkFailed, "mklink /J failed", err).
			WithDetail("output", string(out))
	}
	return nil
}
