package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dafelhub/dataplatform/internal/connector"
	"github.com/dafelhub/dataplatform/internal/infrastructure/migrations"
)

// connectorMigrateCommand wraps the teacher's schema migration manager,
// reused here to bootstrap a SQL connector's backing database (postgres or
// mysql) rather than the alert-history schema it was originally built for.
// internal/audit does not go through this path; its two-table schema is
// fixed and applied inline by audit.Open. The backup/health subcommands the
// teacher shipped alongside the manager were dropped rather than adapted:
// they were wired with a nil *sql.DB (guaranteed panic on first use) and
// health.go hardcoded an "alerts" table name, so there was nothing in them
// worth carrying forward for a generic connector.
func connectorMigrateCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "connector-migrate [connector-id]",
		Short: "Apply schema migrations against a connector's backing SQL database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cc, ok := findConnector(cfg, args[0])
			if !ok {
				return fmt.Errorf("no connector configured with id %q", args[0])
			}

			connCfg := connector.ConnectionConfig{
				ID:             cc.ID,
				Backend:        connector.Backend(cc.Backend),
				Host:           cc.Host,
				Port:           cc.Port,
				Database:       cc.Database,
				Username:       cc.Username,
				Password:       os.Getenv(cc.PasswordEnv),
				TLS:            cc.TLS,
				ConnectTimeout: cc.ConnectTimeout,
				OpTimeout:      cc.OpTimeout,
				PoolMin:        cc.PoolMin,
				PoolMax:        cc.PoolMax,
				Options:        cc.Options,
			}

			migrationConfig, err := migrations.ConfigForConnector(connCfg, dir)
			if err != nil {
				return fmt.Errorf("build migration config: %w", err)
			}
			migrationConfig.Logger = log

			manager, err := migrations.NewMigrationManager(migrationConfig)
			if err != nil {
				return fmt.Errorf("create migration manager: %w", err)
			}

			inner := migrations.NewCLI(manager, log)
			root := inner.GetRootCommand()
			root.Use = "connector-migrate"
			root.Short = cmd.Short
			return root.Execute()
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory containing goose migration files")
	return cmd
}
