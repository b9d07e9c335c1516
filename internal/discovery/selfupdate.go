package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/petitechose-midi-studio/ms-manager/internal/channel"
)

// SelfUpdateResult reports whether a newer build of the manager application
// itself (as opposed to the product firmware/bundle it manages) is
// available.
type SelfUpdateResult struct {
	CurrentVersion string
	LatestVersion  string
	UpdateAvailable bool
}

// CheckSelfUpdate queries managerSlug's latest release and compares its
// tag_name (leading "v" stripped) against currentVersion using stable
// version ordering.
func (d *Discoverer) CheckSelfUpdate(ctx context.Context, managerSlug, currentVersion string) (SelfUpdateResult, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", managerSlug)
	body, err := d.getWithRetry(ctx, url)
	if err != nil {
		return SelfUpdateResult{}, err
	}

	var rel Release
	if err := json.Unmarshal(body, &rel); err != nil {
		return SelfUpdateResult{}, apierr.Wrap(apierr.CodeJSONParseFailed, "failed to parse self-update release", err)
	}

	latest := strings.TrimPrefix(rel.TagName, "v")
	ordering, ok := channel.CompareVersionStrings(latest, currentVersion)
	return SelfUpdateResult{
		CurrentVersion:  currentVersion,
		LatestVersion:   latest,
		UpdateAvailable: ok && ordering == channel.Greater,
	}, nil
}
