package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RetentionTarget selects run logs in Dir whose names match Pattern.
type RetentionTarget struct {
	Dir     string
	Pattern string
}

// CleanupOldLogs removes run logs older than retentionDays from every target
// and returns how many were removed. Symlinks and the files they point at
// (texcached.log -> the live run) are never removed. A retentionDays value
// of 0 disables pruning.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	removed := 0
	for _, target := range targets {
		if target.Dir == "" {
			continue
		}
		entries, err := os.ReadDir(target.Dir)
		if err != nil {
			continue
		}
		live := linkedFiles(target.Dir, entries)
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			if ok, _ := filepath.Match(target.Pattern, entry.Name()); target.Pattern != "" && !ok {
				continue
			}
			if _, keep := live[entry.Name()]; keep {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(target.Dir, entry.Name())
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check file permissions and log_dir ownership"),
					String(FieldImpact, "old run log stays on disk"),
				)
				continue
			}
			removed++
		}
	}
	if removed > 0 && logger != nil {
		logger.Info("old run logs pruned",
			String(FieldEventType, "log_pruned"),
			Int("removed", removed),
			Int("retention_days", retentionDays),
		)
	}
	return removed
}

// linkedFiles returns the names of files in dir that a symlink in dir
// points at.
func linkedFiles(dir string, entries []os.DirEntry) map[string]struct{} {
	live := make(map[string]struct{})
	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		target, err := os.Readlink(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if filepath.IsAbs(target) {
			if filepath.Dir(target) != filepath.Clean(dir) {
				continue
			}
			target = filepath.Base(target)
		}
		live[target] = struct{}{}
	}
	return live
}
