// Package main implements dpctl, the operator CLI for the data-access
// platform: connect to and query configured connectors, inspect schemas,
// rotate and recover vault key material, and drive audit/config-backup
// maintenance tasks out of band from the running daemon.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dafelhub/dataplatform/internal/config"
	"github.com/dafelhub/dataplatform/pkg/logger"
)

var (
	configPath string
	log        *slog.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "dpctl",
		Short: "Operator CLI for the data-access platform",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (env vars always override)")

	root.AddCommand(
		connectCommand(),
		queryCommand(),
		selectCommand(),
		schemaCommand(),
		vaultCommand(),
		recoverCommand(),
		auditCommand(),
		configBackupCommand(),
		connectorMigrateCommand(),
	)

	log = logger.NewLogger(logger.Config{Level: "info", Format: "text", Output: "stderr"})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	return config.LoadConfigFromEnv()
}

func findConnector(cfg *config.Config, id string) (config.ConnectorConfig, bool) {
	for _, cc := range cfg.Connectors {
		if cc.ID == id {
			return cc, true
		}
	}
	return config.ConnectorConfig{}, false
}
