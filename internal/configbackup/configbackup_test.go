package configbackup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafelhub/dataplatform/internal/vault"
)

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "json", DetectContentType("/etc/app/config.json"))
	assert.Equal(t, "yaml", DetectContentType("/etc/app/config.yml"))
	assert.Equal(t, "ini", DetectContentType("/etc/app/config.ini"))
	assert.Equal(t, "env", DetectContentType("/app/.env"))
	assert.Equal(t, "toml", DetectContentType("/app/config.toml"))
	assert.Equal(t, "text", DetectContentType("/app/README"))
}

func TestValidateContent_JSON(t *testing.T) {
	assert.Empty(t, ValidateContent("json", []byte(`{"a":1}`)))
	assert.NotEmpty(t, ValidateContent("json", []byte(`{not json`)))
}

func TestValidateContent_YAML(t *testing.T) {
	assert.Empty(t, ValidateContent("yaml", []byte("a: 1\nb: 2\n")))
	assert.NotEmpty(t, ValidateContent("yaml", []byte("a: [1, 2\n")))
}

func TestValidateContent_TOML(t *testing.T) {
	assert.Empty(t, ValidateContent("toml", []byte("a = 1\n")))
	assert.NotEmpty(t, ValidateContent("toml", []byte("a = ===\n")))
}

func TestValidateContent_INI(t *testing.T) {
	assert.Empty(t, ValidateContent("ini", []byte("[section]\nkey=value\n")))
}

func TestScan_SkipsExcludedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("noise"), 0o644))

	items, contents, err := Scan([]string{dir}, DefaultExcludePatterns)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Contains(t, items[0].Path, "config.json")
	assert.Len(t, contents, 1)
}

func newTestEngine(t *testing.T, roots []string) *Engine {
	t.Helper()
	v, err := vault.New([]byte("configbackup-test-passphrase"), 0)
	require.NoError(t, err)
	snapDir := t.TempDir()
	e, err := NewEngine(v, snapDir, roots, nil, 10, time.Hour)
	require.NoError(t, err)
	return e
}

func TestCreateSnapshot_RestoreRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	cfgPath := filepath.Join(srcDir, "app.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"key":"value"}`), 0o644))

	e := newTestEngine(t, []string{srcDir})
	snap, err := e.CreateSnapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)
	assert.Equal(t, 1, snap.Validation.ValidFiles)

	// Mutate the original file, then restore from the snapshot.
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"key":"mutated"}`), 0o644))

	report, err := e.Restore(snap.ID, false)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 1, report.FilesRestored)

	restored, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, `{"key":"value"}`, string(restored))
}

func TestRestore_DryRunDoesNotWriteFiles(t *testing.T) {
	srcDir := t.TempDir()
	cfgPath := filepath.Join(srcDir, "app.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"key":"value"}`), 0o644))

	e := newTestEngine(t, []string{srcDir})
	snap, err := e.CreateSnapshot()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"key":"mutated"}`), 0o644))

	report, err := e.Restore(snap.ID, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.FilesRestored)

	unchanged, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, `{"key":"mutated"}`, string(unchanged))
}

func TestListSnapshots_NewestFirst(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.json"), []byte(`{}`), 0o644))
	e := newTestEngine(t, []string{srcDir})

	first, err := e.CreateSnapshot()
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := e.CreateSnapshot()
	require.NoError(t, err)

	snaps, err := e.ListSnapshots()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(snaps), 2)
	assert.True(t, snaps[0].Timestamp.After(snaps[1].Timestamp) || snaps[0].ID == second.ID)
	_ = first
}

func TestRestore_UnknownSnapshotFails(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Restore("does-not-exist", true)
	assert.Error(t, err)
}
