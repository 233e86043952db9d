package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafelhub/dataplatform/internal/vault"
)

func newTestTrail(t *testing.T) *Trail {
	t.Helper()
	v, err := vault.New([]byte("audit-test-passphrase"), 0)
	require.NoError(t, err)
	dir := t.TempDir()
	tr, err := Open(filepath.Join(dir, "audit.db"), filepath.Join(dir, "backups"), v, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	tr.Start(ctx)
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr
}

func TestAppend_ChainsAndVerifies(t *testing.T) {
	tr := newTestTrail(t)

	for i := 0; i < 5; i++ {
		err := tr.Append("query_executed", map[string]any{"n": i}, map[string]any{"user": "alice"})
		require.NoError(t, err)
	}
	tr.WaitIdle()

	stats := tr.Stats()
	assert.Equal(t, int64(5), stats.TotalEntries)
	assert.Equal(t, int64(5), stats.LastSequence)

	result, err := tr.Verify(1, 0)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, int64(5), result.EntriesChecked)
	assert.Empty(t, result.Issues)
}

func TestVerify_DetectsHashTampering(t *testing.T) {
	tr := newTestTrail(t)
	require.NoError(t, tr.Append("access_denied", map[string]any{"reason": "policy"}, nil))
	tr.WaitIdle()

	_, err := tr.db.Exec(`UPDATE audit_entries SET event_data = ? WHERE sequence_number = 1`, `{"reason":"tampered"}`)
	require.NoError(t, err)

	result, err := tr.Verify(1, 0)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.NotEmpty(t, result.Issues)
}

func TestVerify_DetectsChainBreak(t *testing.T) {
	tr := newTestTrail(t)
	require.NoError(t, tr.Append("connection_established", map[string]any{}, nil))
	require.NoError(t, tr.Append("connection_closed", map[string]any{}, nil))
	tr.WaitIdle()

	_, err := tr.db.Exec(`UPDATE audit_entries SET previous_hash = 'bogus' WHERE sequence_number = 2`)
	require.NoError(t, err)

	result, err := tr.Verify(1, 0)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	found := false
	for _, issue := range result.Issues {
		if issue.Kind == "chain_break" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCreateBackup_WritesManifest(t *testing.T) {
	tr := newTestTrail(t)
	require.NoError(t, tr.Append("query_executed", map[string]any{}, nil))
	tr.WaitIdle()

	path, err := tr.CreateBackup()
	require.NoError(t, err)
	assert.DirExists(t, path)
	assert.FileExists(t, filepath.Join(path, "audit_trail.db"))
	assert.FileExists(t, filepath.Join(path, "manifest.json"))
}

func TestLoadState_RecoversFromExistingRows(t *testing.T) {
	v, err := vault.New([]byte("passphrase"), 0)
	require.NoError(t, err)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit.db")
	backupDir := filepath.Join(dir, "backups")

	tr, err := Open(dbPath, backupDir, v, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	tr.Start(ctx)
	require.NoError(t, tr.Append("query_executed", map[string]any{}, nil))
	tr.WaitIdle()
	cancel()
	require.NoError(t, tr.Close(context.Background()))

	reopened, err := Open(dbPath, backupDir, v, nil)
	require.NoError(t, err)
	stats := reopened.Stats()
	assert.Equal(t, int64(1), stats.TotalEntries)
	assert.Equal(t, int64(1), stats.LastSequence)
}
