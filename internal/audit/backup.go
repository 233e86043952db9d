package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dafelhub/dataplatform/internal/apperrors"
)

// Manifest describes one backup snapshot of the audit row store, per
// spec §4.8.
type Manifest struct {
	BackupTimestamp time.Time `json:"backup_timestamp"`
	TotalEntries    int64     `json:"total_entries"`
	LastSequence    int64     `json:"last_sequence_number"`
	DatabaseFile    string    `json:"database_file"`
}

// CreateBackup copies the row store into a fresh timestamped directory
// under backupDir alongside a manifest, mirroring the original's
// create_backup. Returns the backup directory path.
func (t *Trail) CreateBackup() (string, error) {
	stats := t.Stats()
	name := fmt.Sprintf("audit_backup_%s", time.Now().UTC().Format("20060102_150405"))
	dest := filepath.Join(t.backupDir, name)
	if err := os.MkdirAll(dest, 0o700); err != nil {
		return "", apperrors.New(apperrors.KindUnknown, "audit.CreateBackup", err)
	}

	if err := copyFile(t.dbPath, filepath.Join(dest, "audit_trail.db")); err != nil {
		return "", err
	}

	manifest := Manifest{
		BackupTimestamp: time.Now().UTC(),
		TotalEntries:    stats.TotalEntries,
		LastSequence:    stats.LastSequence,
		DatabaseFile:    "audit_trail.db",
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", apperrors.New(apperrors.KindUnknown, "audit.CreateBackup", err)
	}
	if err := os.WriteFile(filepath.Join(dest, "manifest.json"), raw, 0o600); err != nil {
		return "", apperrors.New(apperrors.KindUnknown, "audit.CreateBackup", err)
	}
	t.logger.Info("audit trail backup created", "path", dest)
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return apperrors.New(apperrors.KindUnknown, "audit.copyFile", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return apperrors.New(apperrors.KindUnknown, "audit.copyFile", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return apperrors.New(apperrors.KindUnknown, "audit.copyFile", err)
	}
	return out.Sync()
}

func (t *Trail) runBackupTimer(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.backupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := t.CreateBackup(); err != nil {
				t.logger.Error("scheduled audit backup failed", "error", err)
			}
		case <-t.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
