//go:build !windows

package browser

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/process"
)

type unixReaper struct{}

func newPlatformReaper() ProcessReaper {
	return &unixReaper{}
}

// KillByProfileDir kills every process whose command line references the
// profile directory. Scoping by the temp dir keeps unrelated browsers alive.
func (r *unixReaper) KillByProfileDir(profileDir string) error {
	if strings.TrimSpace(profileDir) == "" {
		return fmt.Errorf("profile dir is required")
	}

	procs, err := process.Processes()
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}

	var lastErr error
	killed := 0
	for _, p := range procs {
		cmdline, err := p.Cmdline()
		if err != nil || !strings.Contains(cmdline, profileDir) {
			continue
		}
		if err := p.Kill(); err != nil {
			lastErr = err
			continue
		}
		killed++
	}

	if killed == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}
