package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dafelhub/dataplatform/internal/audit"
)

func openAuditTrail() (*audit.Trail, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	passphrase := os.Getenv(cfg.Vault.PassphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase env var %q is not set", cfg.Vault.PassphraseEnv)
	}
	v, err := openVault()
	if err != nil {
		return nil, err
	}
	return audit.Open(cfg.Audit.DatabasePath, cfg.Audit.BackupDir, v, log)
}

func auditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verify and back up the hash-chained audit trail",
	}
	cmd.AddCommand(auditVerifyCommand(), auditBackupCommand())
	return cmd
}

func auditVerifyCommand() *cobra.Command {
	var start, end int64
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Walk the audit chain and check hash/signature continuity",
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, err := openAuditTrail()
			if err != nil {
				return err
			}
			defer trail.Close(context.Background())

			result, err := trail.Verify(start, end)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			fmt.Printf("passed=%t entries_checked=%d\n", result.Passed, result.EntriesChecked)
			for _, issue := range result.Issues {
				fmt.Printf("  seq=%d kind=%s detail=%s\n", issue.Sequence, issue.Kind, issue.Detail)
			}
			if !result.Passed {
				return fmt.Errorf("audit chain verification failed with %d issue(s)", len(result.Issues))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&start, "start", 0, "first sequence number to check (inclusive)")
	cmd.Flags().Int64Var(&end, "end", 0, "last sequence number to check, 0 means no upper bound")
	return cmd
}

func auditBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Create an on-demand backup of the audit database",
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, err := openAuditTrail()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			defer trail.Close(ctx)

			path, err := trail.CreateBackup()
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			fmt.Printf("backup written to %s\n", path)
			return nil
		},
	}
}
