package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// PruneRunLogs deletes files in dir matching pattern whose modification time
// is older than maxAge, skipping the paths in keep. It returns how many files
// were removed. A non-positive maxAge disables pruning.
func PruneRunLogs(logger *slog.Logger, dir, pattern string, maxAge time.Duration, keep ...string) int {
	if maxAge <= 0 || dir == "" || pattern == "" {
		return 0
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0
	}
	kept := make(map[string]bool, len(keep))
	for _, path := range keep {
		kept[filepath.Clean(path)] = true
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, path := range matches {
		if kept[filepath.Clean(path)] {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "run log not pruned", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check ownership of paths.log_dir"),
				String(FieldImpact, "old run log stays on disk"),
			)
			continue
		}
		removed++
	}
	if removed > 0 && logger != nil {
		logger.Info("pruned old run logs",
			Int("removed", removed),
			String(FieldEventType, "log_pruned"),
		)
	}
	return removed
}
