package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicyYAML = `
policies:
  - id: analyst-read
    database_globs: ["prod_*"]
    permitted_ops: ["read", "schema"]
    subject_roles: ["analyst"]
    ip_allow_list: ["10.0.0.0/8"]
  - id: expired-admin
    database_globs: ["*"]
    permitted_ops: ["admin"]
    subject_roles: ["root"]
    valid_until: "2000-01-01T00:00:00Z"
`

func writeTempPolicyFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadSetFromFile(t *testing.T) {
	path := writeTempPolicyFile(t, samplePolicyYAML)

	set, err := LoadSetFromFile(path)
	require.NoError(t, err)
	require.Len(t, set.Policies(), 2)

	now := time.Now()
	assert.True(t, set.Allows(Subject{Roles: []string{"analyst"}, IP: "10.1.2.3"}, "prod_orders", PermissionRead, now))
	assert.False(t, set.Allows(Subject{Roles: []string{"analyst"}, IP: "192.168.1.1"}, "prod_orders", PermissionRead, now), "IP outside allow list")
	assert.False(t, set.Allows(Subject{Roles: []string{"root"}}, "anydb", PermissionAdmin, now), "expired policy")
}

func TestLoadSetFromFile_MissingFile(t *testing.T) {
	_, err := LoadSetFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadSetFromFile_InvalidTimestamp(t *testing.T) {
	path := writeTempPolicyFile(t, `
policies:
  - id: bad-date
    valid_from: "not-a-timestamp"
`)
	_, err := LoadSetFromFile(path)
	assert.Error(t, err)
}
