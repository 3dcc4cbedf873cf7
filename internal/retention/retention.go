package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mxschmitt/pg-datasource/internal/metadata"
)

// CleanupProbeHistory removes history days older than retentionDays relative
// to now and returns how many day directories were deleted. A non-positive
// retentionDays keeps everything.
func CleanupProbeHistory(baseDir string, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	historyDir := filepath.Join(baseDir, metadata.HistoryDir)
	entries, err := os.ReadDir(historyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read history directory: %w", err)
	}

	cutoff := now.AddDate(0, 0, -retentionDays).Format("2006-01-02")

	var deleted int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day := entry.Name()
		if _, err := time.Parse("2006-01-02", day); err != nil {
			continue
		}
		if day >= cutoff {
			continue
		}
		if err := os.RemoveAll(filepath.Join(historyDir, day)); err != nil {
			return deleted, fmt.Errorf("failed to delete history for %s: %w", day, err)
		}
		deleted++
	}

	return deleted, nil
}
