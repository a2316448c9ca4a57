// Package config resolves beansched settings: where the ledger database
// lives, where schedules are read from, and which OFX accounts map to which
// ledger accounts.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves a leading ~ to the home directory and then
// substitutes $VAR references, so database.path, schedules.path and
// BEANSCHEDULE_DIR can be written portably. The tilde is kept when the home
// directory is unknown.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(path, "~"); ok && (rest == "" || rest[0] == '/' || rest[0] == filepath.Separator) {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, rest)
		}
	}
	return os.ExpandEnv(path)
}

// SchedulesDir returns the directory new schedule files belong in: the
// configured schedules path when it is a directory, the directory holding it
// when it names a single file, and fallback otherwise.
func SchedulesDir(configured, fallback string) string {
	path := ExpandPath(configured)
	if path == "" {
		return fallback
	}
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return filepath.Dir(path)
	}
	return path
}
