package keyrecovery

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_BackupRecoverRoundTrip(t *testing.T) {
	dirA := filepath.Join(t.TempDir(), "a")
	dirB := filepath.Join(t.TempDir(), "b")
	e, err := NewEngine([]string{dirA, dirB})
	require.NoError(t, err)

	key := []byte("0123456789abcdef0123456789abcdef")
	info, err := e.BackupKey("key-1", 1, key, 3, 5, "")
	require.NoError(t, err)
	assert.Equal(t, "key-1", info.KeyID)
	assert.Equal(t, Fingerprint(key), info.Fingerprint)

	recovered, err := e.RecoverKey(info.KeyID, 5, info.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, key, recovered)
}

func TestEngine_SurvivesSingleDirectoryLoss(t *testing.T) {
	dirA := filepath.Join(t.TempDir(), "a")
	dirB := filepath.Join(t.TempDir(), "b")
	dirC := filepath.Join(t.TempDir(), "c")
	e, err := NewEngine([]string{dirA, dirB, dirC})
	require.NoError(t, err)

	key := []byte("replicated-key-material")
	info, err := e.BackupKey("key-2", 1, key, 2, 3, "")
	require.NoError(t, err)

	// Only dirC survives.
	onlyC, err := NewEngine([]string{dirC})
	require.NoError(t, err)
	recovered, err := onlyC.RecoverKey(info.KeyID, 3, info.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, key, recovered)
}

func TestEngine_RecoverKey_FingerprintMismatch(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEngine([]string{dir})
	require.NoError(t, err)

	key := []byte("some-key-bytes")
	info, err := e.BackupKey("key-3", 1, key, 2, 3, "")
	require.NoError(t, err)

	_, err = e.RecoverKey(info.KeyID, 3, "deadbeef")
	assert.Error(t, err)
}

func TestEngine_RecoverKey_NoSharesFound(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEngine([]string{dir})
	require.NoError(t, err)

	_, err = e.RecoverKey("nonexistent", 3, "")
	assert.Error(t, err)
}

func TestNewEngine_RequiresDirectory(t *testing.T) {
	_, err := NewEngine(nil)
	assert.Error(t, err)
}
