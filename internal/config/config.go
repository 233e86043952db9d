// Package config loads dataplatformd's configuration from file, env, and
// viper defaults, following the teacher's Profile/setDefaults/Validate
// shape.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Profile DeploymentProfile `mapstructure:"profile"`

	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Lock        LockConfig        `mapstructure:"lock"`
	App         AppConfig         `mapstructure:"app"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Vault       VaultConfig       `mapstructure:"vault"`
	Audit       AuditConfig       `mapstructure:"audit"`
	KeyRecovery KeyRecoveryConfig `mapstructure:"key_recovery"`
	ConfigBackup ConfigBackupConfig `mapstructure:"config_backup"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Connectors  []ConnectorConfig `mapstructure:"connectors"`
}

// DeploymentProfile represents the deployment profile type.
type DeploymentProfile string

const (
	// ProfileLite runs a single dataplatformd process with a file-backed
	// vault and no Redis, for development or a single small deployment.
	ProfileLite DeploymentProfile = "lite"

	// ProfileStandard runs HA-ready, with Redis-backed distributed
	// locking for config-backup snapshot coordination across replicas.
	ProfileStandard DeploymentProfile = "standard"
)

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// RedisConfig holds Redis-related configuration: the config-backup
// distributed snapshot lock in the standard profile, and (optionally)
// key-recovery share-location coordination across replicas.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// LogConfig holds logging-related configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LockConfig holds distributed lock configuration for config-backup
// snapshot coordination.
type LockConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
	ValuePrefix    string        `mapstructure:"value_prefix"`
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
	Timezone    string `mapstructure:"timezone"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// VaultConfig configures the credential/secret vault (C1).
type VaultConfig struct {
	// PassphraseEnv names the environment variable holding the vault's
	// master passphrase; the passphrase itself is never stored in config
	// files, matching spec §6's "never persisted in the clear" rule.
	PassphraseEnv  string `mapstructure:"passphrase_env"`
	MaxOldVersions int    `mapstructure:"max_old_versions"`
}

// AuditConfig configures the hash-chained audit trail (C3).
type AuditConfig struct {
	DatabasePath      string        `mapstructure:"database_path"`
	BackupDir         string        `mapstructure:"backup_dir"`
	BackupInterval    time.Duration `mapstructure:"backup_interval"`
	CheckpointEvery   int64         `mapstructure:"checkpoint_every"`
	QueueCapacity     int           `mapstructure:"queue_capacity"`
}

// KeyRecoveryConfig configures Shamir secret-share backup of the vault's
// master key (C2).
type KeyRecoveryConfig struct {
	ShareDirs          []string `mapstructure:"share_dirs"`
	Threshold          int      `mapstructure:"threshold"`
	TotalShares        int      `mapstructure:"total_shares"`
}

// ConfigBackupConfig configures the directory-snapshot engine (C4).
type ConfigBackupConfig struct {
	SnapshotDir     string        `mapstructure:"snapshot_dir"`
	Roots           []string      `mapstructure:"roots"`
	Excludes        []string      `mapstructure:"excludes"`
	MaxSnapshots    int           `mapstructure:"max_snapshots"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	BackupInterval  time.Duration `mapstructure:"backup_interval"`
	UseDistributedLock bool       `mapstructure:"use_distributed_lock"`
}

// MonitorConfig configures the threshold-alerting collector (C11).
type MonitorConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	AlertRetention     time.Duration `mapstructure:"alert_retention"`
}

// ConnectorConfig describes one statically-configured backend connection
// (C5/C6); equivalent to registry.ParseURI's output but expressible in a
// config file alongside discovery.
type ConnectorConfig struct {
	ID             string            `mapstructure:"id"`
	Backend        string            `mapstructure:"backend"`
	Host           string            `mapstructure:"host"`
	Port           int               `mapstructure:"port"`
	Database       string            `mapstructure:"database"`
	Username       string            `mapstructure:"username"`
	PasswordEnv    string            `mapstructure:"password_env"`
	TLS            bool              `mapstructure:"tls"`
	ConnectTimeout time.Duration     `mapstructure:"connect_timeout"`
	OpTimeout      time.Duration     `mapstructure:"op_timeout"`
	PoolMin        int               `mapstructure:"pool_min"`
	PoolMax        int               `mapstructure:"pool_max"`
	Options        map[string]string `mapstructure:"options"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables only.
func LoadConfigFromEnv() (*Config, error) {
	setDefaults()
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("profile", "standard")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("lock.ttl", "30s")
	viper.SetDefault("lock.max_retries", 3)
	viper.SetDefault("lock.retry_interval", "100ms")
	viper.SetDefault("lock.acquire_timeout", "5s")
	viper.SetDefault("lock.release_timeout", "2s")
	viper.SetDefault("lock.value_prefix", "lock")

	viper.SetDefault("app.name", "dataplatformd")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.timezone", "UTC")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("vault.passphrase_env", "DATAPLATFORM_VAULT_PASSPHRASE")
	viper.SetDefault("vault.max_old_versions", 3)

	viper.SetDefault("audit.database_path", "/var/lib/dataplatform/audit.db")
	viper.SetDefault("audit.backup_dir", "/var/lib/dataplatform/audit-backups")
	viper.SetDefault("audit.backup_interval", "15m")
	viper.SetDefault("audit.checkpoint_every", 100)
	viper.SetDefault("audit.queue_capacity", 1024)

	viper.SetDefault("key_recovery.threshold", 3)
	viper.SetDefault("key_recovery.total_shares", 5)

	viper.SetDefault("config_backup.snapshot_dir", "/var/lib/dataplatform/config-snapshots")
	viper.SetDefault("config_backup.max_snapshots", 100)
	viper.SetDefault("config_backup.max_age", "720h")
	viper.SetDefault("config_backup.backup_interval", "15m")
	viper.SetDefault("config_backup.use_distributed_lock", true)

	viper.SetDefault("monitor.poll_interval", "30s")
	viper.SetDefault("monitor.alert_retention", "24h")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Profile != ProfileLite && c.Profile != ProfileStandard {
		return fmt.Errorf("invalid deployment profile: %s (must be 'lite' or 'standard')", c.Profile)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.Profile == ProfileStandard && c.ConfigBackup.UseDistributedLock && c.Redis.Addr == "" {
		return fmt.Errorf("standard profile with config_backup.use_distributed_lock requires redis.addr")
	}

	if c.Vault.PassphraseEnv == "" {
		return fmt.Errorf("vault.passphrase_env cannot be empty")
	}

	if c.KeyRecovery.Threshold > 0 && c.KeyRecovery.TotalShares > 0 && c.KeyRecovery.Threshold > c.KeyRecovery.TotalShares {
		return fmt.Errorf("key_recovery.threshold (%d) cannot exceed total_shares (%d)", c.KeyRecovery.Threshold, c.KeyRecovery.TotalShares)
	}

	for _, conn := range c.Connectors {
		if conn.ID == "" {
			return fmt.Errorf("connector entry missing id")
		}
		if conn.Backend == "" {
			return fmt.Errorf("connector %q missing backend", conn.ID)
		}
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}

	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}

	return nil
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebug returns true if debug mode is enabled.
func (c *Config) IsDebug() bool {
	return c.App.Debug || c.IsDevelopment()
}

// IsLiteProfile returns true if running in the Lite deployment profile.
func (c *Config) IsLiteProfile() bool {
	return c.Profile == ProfileLite
}

// IsStandardProfile returns true if running in the Standard deployment profile.
func (c *Config) IsStandardProfile() bool {
	return c.Profile == ProfileStandard
}

// GetProfileName returns a human-readable profile name.
func (c *Config) GetProfileName() string {
	switch c.Profile {
	case ProfileLite:
		return "Lite (single-node, no Redis)"
	case ProfileStandard:
		return "Standard (Redis-coordinated, HA-ready)"
	default:
		return string(c.Profile)
	}
}
