package procutil

import (
	"context"
	"strings"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
	"github.com/shirou/gopsutil/v4/process"
)

// KillMatching kills every running process whose argv contains argvNeedle,
// preferring exact matches on execPath (case-sensitive) and falling back to
// matching processes merely named processName (e.g. "oc-bridge" or
// "oc-bridge.exe") when no process matched execPath — a defensive
// reconciliation for a stale instance left behind by a previous payload
// layout. Returns the number of processes killed.
func KillMatching(ctx context.Context, execPath, processName, argvNeedle string) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, apierr.Wrap(apierr.CodeProcessKillFailed, "failed to list processes", err)
	}

	killed := 0
	var matchedByExe []*process.Process
	for _, p := range procs {
		exe, err := p.ExeWithContext(ctx)
		if err != nil || exe != execPath {
			continue
		}
		if !argvContains(ctx, p, argvNeedle) {
			continue
		}
		matchedByExe = append(matchedByExe, p)
	}

	if len(matchedByExe) > 0 {
		for _, p := range matchedByExe {
			if err := p.KillWithContext(ctx); err == nil {
				killed++
			}
		}
		return killed, nil
	}

	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || !strings.EqualFold(name, processName) {
			continue
		}
		if !argvContains(ctx, p, argvNeedle) {
			continue
		}
		if err := p.KillWithContext(ctx); err == nil {
			killed++
		}
	}
	return killed, nil
}

func argvContains(ctx context.Context, p *process.Process, needle string) bool {
	argv, err := p.CmdlineSliceWithContext(ctx)
	if err != nil {
		return false
	}
	for _, a := range argv {
		if strings.Contains(a, needle) {
			return true
		}
	}
	return false
}
