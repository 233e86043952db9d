package keyrecovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dafelhub/dataplatform/internal/apperrors"
)

// BackupInfo mirrors spec §3's KeyBackupInfo: everything needed to locate
// and validate a key's shares without holding the key itself.
type BackupInfo struct {
	KeyID          string
	Version        int
	Algorithm      string
	Fingerprint    string
	CreatedAt      time.Time
	BackedUpAt     time.Time
	SharesTotal    int
	SharesThreshold int
	Locations      []string
	ParentKeyID    string
}

// Fingerprint computes a stable identity for a key (the hex SHA-256 of its
// bytes), used to
// validate a recovered key before returning it to the caller.
func Fingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

// Engine owns share replication and recovery bookkeeping (C2). It has no
// network or vault dependency: callers hand it the raw key bytes to split,
// and receive raw bytes back on recovery, keeping key material out of this
// package's own state beyond the single call stack.
type Engine struct {
	directories []string
	coordinator *Coordinator
}

// NewEngine replicates shares across every directory in dirs, per spec
// §4.9's "survive single-location loss" requirement. At least one
// directory is required.
func NewEngine(dirs []string) (*Engine, error) {
	if len(dirs) == 0 {
		return nil, apperrors.New(apperrors.KindInvalidConfig, "keyrecovery.NewEngine", fmt.Errorf("at least one backup directory is required"))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, apperrors.New(apperrors.KindUnknown, "keyrecovery.NewEngine", err)
		}
	}
	return &Engine{directories: append([]string(nil), dirs...), coordinator: NewCoordinator(nil)}, nil
}

// WithCoordinator attaches a cluster-wide location tracker, so multi-node
// deployments can confirm a backup reached every replica; see
// internal/keyrecovery/coordination.go.
func (e *Engine) WithCoordinator(c *Coordinator) *Engine {
	e.coordinator = c
	return e
}

type shareFile struct {
	Index     int       `json:"index"`
	Data      string    `json:"data"`
	Threshold int       `json:"threshold"`
	Total     int       `json:"total"`
	KeyID     string    `json:"key_id"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"`
}

func shareFileName(keyID string, index int) string {
	return fmt.Sprintf("share_%s_%d.json", keyID, index)
}

// BackupKey splits key and writes each share to every configured
// directory, returning a BackupInfo describing the backup, per spec §4.9.
func (e *Engine) BackupKey(keyID string, version int, key []byte, threshold, total int, parentKeyID string) (BackupInfo, error) {
	shares, err := SplitSecret(key, threshold, total)
	if err != nil {
		return BackupInfo{}, err
	}
	for _, share := range shares {
		sf := shareFile{
			Index: share.Index, Data: hex.EncodeToString(share.Data),
			Threshold: share.Threshold, Total: share.Total, KeyID: share.KeyID,
			CreatedAt: share.CreatedAt, Checksum: share.Checksum,
		}
		raw, err := json.MarshalIndent(sf, "", "  ")
		if err != nil {
			return BackupInfo{}, apperrors.New(apperrors.KindUnknown, "keyrecovery.BackupKey", err)
		}
		for _, dir := range e.directories {
			path := filepath.Join(dir, shareFileName(keyID, share.Index))
			if err := os.WriteFile(path, raw, 0o600); err != nil {
				return BackupInfo{}, apperrors.New(apperrors.KindUnknown, "keyrecovery.BackupKey", err)
			}
		}
	}
	// Best-effort: a cluster that can't reach the coordination cache still
	// has its shares safely on disk, it just can't confirm replication
	// across nodes until the cache is reachable again.
	_ = e.coordinator.RecordLocations(context.Background(), keyID, e.directories)

	return BackupInfo{
		KeyID: keyID, Version: version, Algorithm: "aes-256-gcm",
		Fingerprint: Fingerprint(key), CreatedAt: time.Now(), BackedUpAt: time.Now(),
		SharesTotal: total, SharesThreshold: threshold, Locations: e.directories,
		ParentKeyID: parentKeyID,
	}, nil
}

// RecoverKey reads shares for keyID from the configured directories (first
// directory that has each index wins), reconstructs the key, and validates
// it against the expected fingerprint before returning it, per spec §4.9.
func (e *Engine) RecoverKey(keyID string, total int, expectedFingerprint string) ([]byte, error) {
	var shares []Share
	for i := 1; i <= total; i++ {
		share, ok := e.readShare(keyID, i)
		if !ok {
			continue
		}
		shares = append(shares, share)
	}
	if len(shares) == 0 {
		return nil, apperrors.New(apperrors.KindRecoveryFailed, "keyrecovery.RecoverKey", fmt.Errorf("no shares found for key %s", keyID))
	}

	secret, err := RecoverSecret(shares)
	if err != nil {
		return nil, err
	}
	if expectedFingerprint != "" && Fingerprint(secret) != expectedFingerprint {
		return nil, apperrors.New(apperrors.KindIntegrityViolation, "keyrecovery.RecoverKey", fmt.Errorf("recovered key fingerprint mismatch"))
	}
	return secret, nil
}

func (e *Engine) readShare(keyID string, index int) (Share, bool) {
	name := shareFileName(keyID, index)
	for _, dir := range e.directories {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var sf shareFile
		if err := json.Unmarshal(raw, &sf); err != nil {
			continue
		}
		data, err := hex.DecodeString(sf.Data)
		if err != nil {
			continue
		}
		return Share{
			Index: sf.Index, Data: data, Threshold: sf.Threshold, Total: sf.Total,
			KeyID: sf.KeyID, CreatedAt: sf.CreatedAt, Checksum: sf.Checksum,
		}, true
	}
	return Share{}, false
}
