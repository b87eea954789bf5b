package config

import (
	"os"
	"path/filepath"
)

// Dir returns the per-user configuration directory of kbdctl.
func Dir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "kbdctl")
}
