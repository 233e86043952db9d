package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dafelhub/dataplatform/internal/configbackup"
)

func openConfigBackupEngine() (*configbackup.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	v, err := openVault()
	if err != nil {
		return nil, err
	}
	return configbackup.NewEngine(v, cfg.ConfigBackup.SnapshotDir, cfg.ConfigBackup.Roots,
		cfg.ConfigBackup.Excludes, cfg.ConfigBackup.MaxSnapshots, cfg.ConfigBackup.MaxAge)
}

func configBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config-backup",
		Short: "Snapshot, list, and restore configuration files under the configured roots",
	}
	cmd.AddCommand(configBackupSnapshotCommand(), configBackupListCommand(), configBackupRestoreCommand())
	return cmd
}

func configBackupSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Take a snapshot of the configured roots",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openConfigBackupEngine()
			if err != nil {
				return err
			}
			snap, err := engine.CreateSnapshot()
			if err != nil {
				return fmt.Errorf("snapshot: %w", err)
			}
			fmt.Printf("snapshot id=%s items=%d\n", snap.ID, len(snap.Items))
			return nil
		},
	}
}

func configBackupListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openConfigBackupEngine()
			if err != nil {
				return err
			}
			snapshots, err := engine.ListSnapshots()
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			for _, s := range snapshots {
				fmt.Printf("%s  items=%d  created=%s\n", s.ID, len(s.Items), s.Timestamp)
			}
			return nil
		},
	}
}

func configBackupRestoreCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "restore [snapshot-id]",
		Short: "Restore configuration files from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openConfigBackupEngine()
			if err != nil {
				return err
			}
			report, err := engine.Restore(args[0], dryRun)
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			fmt.Printf("restored=%d failed=%d dry_run=%t\n", report.FilesRestored, report.FilesFailed, dryRun)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing files")
	return cmd
}
