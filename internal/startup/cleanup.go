// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pipelka/robotv-go/internal/timeshift"
)

// RemoveStaleRingBuffers deletes timeshift ring buffer files left behind
// by prior runs. Sessions unlink their file on close, so anything still
// matching the prefix at startup is an orphan.
//
// Returns the number of files removed and any error encountered.
func RemoveStaleRingBuffers(logger *slog.Logger, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("timeshift directory does not exist, skipping cleanup",
				"path", dir,
			)
			return 0, nil
		}
		logger.Error("failed to read timeshift directory for cleanup",
			"path", dir,
			"error", err,
		)
		return 0, err
	}

	var removed int

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if !strings.HasPrefix(entry.Name(), timeshift.FilePrefix) {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove stale timeshift file",
				"path", path,
				"error", err,
			)
			continue
		}

		logger.Info("removed stale timeshift file",
			"path", path,
		)
		removed++
	}

	return removed, nil
}
