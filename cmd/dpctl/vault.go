package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dafelhub/dataplatform/internal/vault"
)

// openVault derives a fresh Vault from the configured passphrase. It does
// not talk to a running dataplatformd process, so rotate/versions here
// operate on a short-lived Vault local to this invocation rather than the
// daemon's in-memory state; useful for smoke-testing passphrase rotation
// procedures and for the recover workflow below, not for hot-rotating a
// live daemon.
func openVault() (*vault.Vault, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	passphrase := os.Getenv(cfg.Vault.PassphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase env var %q is not set", cfg.Vault.PassphraseEnv)
	}
	return vault.New([]byte(passphrase), cfg.Vault.MaxOldVersions)
}

func vaultCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Inspect and rotate the data-access platform's master key",
	}
	cmd.AddCommand(vaultRotateCommand(), vaultVersionsCommand())
	return cmd
}

func vaultRotateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the vault's current key version",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			newVersion, err := v.RotateKey()
			if err != nil {
				return fmt.Errorf("rotate: %w", err)
			}
			fmt.Printf("rotated to version %d, retained versions: %v\n", newVersion, v.RetainedVersions())
			return nil
		},
	}
}

func vaultVersionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List the vault's currently retained key versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			fmt.Printf("current=%d retained=%v\n", v.CurrentVersion(), v.RetainedVersions())
			return nil
		},
	}
}
