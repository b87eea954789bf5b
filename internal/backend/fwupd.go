package backend

import (
	"errors"
	"fmt"
	"os/exec"
	"regexp"
)

var launchUpdate = regexp.MustCompile(`Launch.* Configurable Keyboard`)

// UpdateChecker reports whether attached keyboards run current firmware.
type UpdateChecker func() (bool, error)

// FwupdUpdated asks fwupd for pending updates. fwupdmgr exits non-zero when
// there is nothing to update, so only a failure to run it is an error.
func FwupdUpdated() (bool, error) {
	out, err := exec.Command("fwupdmgr", "get-updates", "--json").Output()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return false, fmt.Errorf("run fwupdmgr: %w", err)
	}
	return !launchUpdate.Match(out), nil
}
