package postgres

import (
	"fmt"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/connector"
)

// BuildDSN renders a pgx-compatible connection string from a ConnectionConfig,
// grounded on the teacher's PostgresConfig.DSN (internal/database/postgres/config.go).
func BuildDSN(cfg connector.ConnectionConfig) string {
	sslmode := "disable"
	if cfg.TLS {
		sslmode = "require"
	}
	if v, ok := cfg.Options["sslmode"]; ok {
		sslmode = v
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, sslmode)
}

// Validate checks the subset of ConnectionConfig fields this driver needs,
// mirroring the teacher's PostgresConfig.Validate.
func Validate(cfg connector.ConnectionConfig) error {
	if cfg.Host == "" {
		return apperrors.New(apperrors.KindInvalidConfig, "postgres.Validate", fmt.Errorf("host is required"))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return apperrors.New(apperrors.KindInvalidConfig, "postgres.Validate", fmt.Errorf("port must be 1-65535"))
	}
	if cfg.Database == "" {
		return apperrors.New(apperrors.KindInvalidConfig, "postgres.Validate", fmt.Errorf("database is required"))
	}
	if cfg.PoolMax <= 0 {
		return apperrors.New(apperrors.KindInvalidConfig, "postgres.Validate", fmt.Errorf("pool max must be > 0"))
	}
	if cfg.PoolMin < 0 || cfg.PoolMin > cfg.PoolMax {
		return apperrors.New(apperrors.KindInvalidConfig, "postgres.Validate", fmt.Errorf("pool min out of range"))
	}
	return nil
}
