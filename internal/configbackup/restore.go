package configbackup

import (
	"fmt"
	"os"
	"path/filepath"
)

// Restore writes a snapshot's files back to their original paths (unless
// dryRun, in which case it only reports what would happen), per spec's
// dry-run/apply restore requirement. Per Open Question #3 this never
// relaunches the current process; the caller's CLI is responsible for
// telling operators to restart dependent services.
func (e *Engine) Restore(snapshotID string, dryRun bool) (RestoreReport, error) {
	snap, fc, err := e.loadSnapshot(snapshotID)
	if err != nil {
		return RestoreReport{}, err
	}

	report := RestoreReport{SnapshotID: snapshotID, DryRun: dryRun}
	for _, item := range snap.Items {
		content, ok := fc.Contents[item.Path]
		if !ok {
			report.Warnings = append(report.Warnings, fmt.Sprintf("no content available for: %s", item.Path))
			continue
		}
		if dryRun {
			report.FilesRestored++
			report.RestoredPaths = append(report.RestoredPaths, item.Path)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(item.Path), 0o755); err != nil {
			report.FilesFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("failed to restore %s: %v", item.Path, err))
			continue
		}
		if err := os.WriteFile(item.Path, []byte(content), 0o644); err != nil {
			report.FilesFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("failed to restore %s: %v", item.Path, err))
			continue
		}
		report.FilesRestored++
		report.RestoredPaths = append(report.RestoredPaths, item.Path)
	}
	report.Success = report.FilesFailed == 0
	return report, nil
}
