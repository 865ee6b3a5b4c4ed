//go:build windows

package browser

import (
	"fmt"
	"os/exec"
	"strings"
)

type windowsReaper struct{}

func newPlatformReaper() ProcessReaper {
	return &windowsReaper{}
}

// KillByProfileDir falls back to a blunt taskkill of headless chrome; the
// per-process command-line filter is not reliably available on Windows.
func (r *windowsReaper) KillByProfileDir(profileDir string) error {
	if strings.TrimSpace(profileDir) == "" {
		return fmt.Errorf("profile dir is required")
	}

	out, err := exec.Command("taskkill", "/F", "/T", "/IM", "chrome.exe").CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill failed: %v (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}
