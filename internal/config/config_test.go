package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper clears viper's global state between tests.
func resetViper() {
	viper.Reset()
}

func unsetEnvKeys(keys ...string) {
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
}

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)
	return path
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	resetViper()
	unsetEnvKeys(
		"SERVER_PORT", "SERVER_HOST", "REDIS_ADDR", "APP_ENVIRONMENT", "APP_DEBUG",
		"VAULT_PASSPHRASE_ENV",
	)

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, false, cfg.App.Debug)
	assert.Equal(t, "standard", string(cfg.Profile))
	assert.Equal(t, "DATAPLATFORM_VAULT_PASSPHRASE", cfg.Vault.PassphraseEnv)
	assert.Equal(t, 100, cfg.ConfigBackup.MaxSnapshots)
}

func TestLoadConfig_File(t *testing.T) {
	resetViper()
	unsetEnvKeys("SERVER_PORT", "APP_ENVIRONMENT", "APP_DEBUG")

	yaml := `
app:
  environment: "production"
  debug: false
server:
  port: 9090
  host: "127.0.0.1"
redis:
  addr: "redis:6379"
log:
  level: "debug"
connectors:
  - id: "primary"
    backend: "postgresql"
    host: "db.local"
    port: 5433
    database: "testdb"
    username: "user"
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Environment)
	assert.False(t, cfg.App.Debug)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.Len(t, cfg.Connectors, 1)
	assert.Equal(t, "primary", cfg.Connectors[0].ID)
	assert.Equal(t, "postgresql", cfg.Connectors[0].Backend)
	assert.Equal(t, "db.local", cfg.Connectors[0].Host)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	resetViper()
	yaml := `
server:
  port: 8080
app:
  environment: "development"
  debug: true
`
	path := writeTempYAML(t, yaml)

	require.NoError(t, os.Setenv("SERVER_PORT", "9091"))
	require.NoError(t, os.Setenv("APP_ENVIRONMENT", "production"))
	require.NoError(t, os.Setenv("APP_DEBUG", "false"))
	t.Cleanup(func() {
		unsetEnvKeys("SERVER_PORT", "APP_ENVIRONMENT", "APP_DEBUG")
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9091, cfg.Server.Port, "env should override file")
	assert.Equal(t, "production", cfg.App.Environment, "env should override file")
	assert.Equal(t, false, cfg.App.Debug, "env should override file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	resetViper()
	unsetEnvKeys("SERVER_PORT")

	invalid := `
server:
  port: : invalid
`
	path := writeTempYAML(t, invalid)

	cfg, err := LoadConfig(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_ValidationError(t *testing.T) {
	resetViper()
	unsetEnvKeys("SERVER_PORT")

	yaml := `
server:
  port: -1
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.Error(t, err, "validation should fail for invalid server.port")
	assert.Nil(t, cfg)
}

func TestValidate_KeyRecoveryThresholdExceedsShares(t *testing.T) {
	cfg := &Config{
		Profile: ProfileLite,
		Server:  ServerConfig{Port: 8080, Host: "0.0.0.0"},
		Vault:   VaultConfig{PassphraseEnv: "X"},
		Log:     LogConfig{Level: "info"},
		App:     AppConfig{Name: "dataplatformd"},
		KeyRecovery: KeyRecoveryConfig{Threshold: 5, TotalShares: 3},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold")
}

func TestValidate_ConnectorMissingBackend(t *testing.T) {
	cfg := &Config{
		Profile:    ProfileLite,
		Server:     ServerConfig{Port: 8080, Host: "0.0.0.0"},
		Vault:      VaultConfig{PassphraseEnv: "X"},
		Log:        LogConfig{Level: "info"},
		App:        AppConfig{Name: "dataplatformd"},
		Connectors: []ConnectorConfig{{ID: "primary"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
}
