package job

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// UploadCleanupJob deletes uploaded videos older than the retention window.
type UploadCleanupJob struct {
	dir       string
	retention time.Duration
	now       func() time.Time
}

func NewUploadCleanupJob(dir string, retention time.Duration) *UploadCleanupJob {
	return &UploadCleanupJob{dir: dir, retention: retention, now: time.Now}
}

// Run removes stale regular files and returns how many were deleted. Failures on
// individual files are logged and skipped.
func (j *UploadCleanupJob) Run() int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Str("dir", j.dir).Msg("failed to list upload directory")
		}
		return 0
	}

	cutoff := j.now().Add(-j.retention)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("failed to stat upload")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(j.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to delete stale upload")
			continue
		}
		removed++
		log.Debug().Str("path", path).Time("modified", info.ModTime()).Msg("deleted stale upload")
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Dur("retention", j.retention).Msg("stale uploads cleaned up")
	}
	return removed
}
