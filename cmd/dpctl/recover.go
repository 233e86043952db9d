package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dafelhub/dataplatform/internal/config"
	"github.com/dafelhub/dataplatform/internal/infrastructure/cache"
	"github.com/dafelhub/dataplatform/internal/keyrecovery"
)

func recoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Back up and recover master key material via Shamir secret sharing",
	}
	cmd.AddCommand(recoverBackupCommand(), recoverRestoreCommand())
	return cmd
}

// coordinatorFromConfig builds a keyrecovery.Coordinator backed by Redis
// when cfg.Redis.Addr is configured, otherwise returns a Coordinator with no
// cache (every method on it is then a no-op), for the single-node Lite profile.
func coordinatorFromConfig(cfg *config.Config) (*keyrecovery.Coordinator, func()) {
	if cfg.Redis.Addr == "" {
		return keyrecovery.NewCoordinator(nil), func() {}
	}
	c, err := cache.NewRedisCache(&cache.CacheConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}, log)
	if err != nil {
		log.Warn("key-recovery coordination disabled, could not reach redis", "error", err)
		return keyrecovery.NewCoordinator(nil), func() {}
	}
	return keyrecovery.NewCoordinator(c), func() { c.Close() }
}

func recoverBackupCommand() *cobra.Command {
	var keyID, keyHex, parentKeyID string
	var version, threshold, total int
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Split a key into shares and replicate them across the configured backup directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			engine, err := keyrecovery.NewEngine(cfg.KeyRecovery.ShareDirs)
			if err != nil {
				return fmt.Errorf("init recovery engine: %w", err)
			}
			coordinator, closeCoordinator := coordinatorFromConfig(cfg)
			defer closeCoordinator()
			engine.WithCoordinator(coordinator)

			key, err := hex.DecodeString(keyHex)
			if err != nil {
				return fmt.Errorf("decode --key: %w", err)
			}
			if threshold == 0 {
				threshold = cfg.KeyRecovery.Threshold
			}
			if total == 0 {
				total = cfg.KeyRecovery.TotalShares
			}
			info, err := engine.BackupKey(keyID, version, key, threshold, total, parentKeyID)
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}

			fmt.Printf("backed up key=%s version=%d fingerprint=%s locations=%v\n",
				info.KeyID, info.Version, info.Fingerprint, info.Locations)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key-id", "", "identifier for the key being backed up")
	cmd.Flags().StringVar(&keyHex, "key", "", "hex-encoded key material to split")
	cmd.Flags().IntVar(&version, "version", 1, "vault key version this backup corresponds to")
	cmd.Flags().IntVar(&threshold, "threshold", 0, "shares required to reconstruct (defaults to config)")
	cmd.Flags().IntVar(&total, "total", 0, "total shares to create (defaults to config)")
	cmd.Flags().StringVar(&parentKeyID, "parent-key-id", "", "previous key's ID, if this backup follows a rotation")
	cmd.MarkFlagRequired("key-id")
	cmd.MarkFlagRequired("key")
	return cmd
}

func recoverRestoreCommand() *cobra.Command {
	var keyID, fingerprint string
	var total int
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Reconstruct a key from its shares",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			engine, err := keyrecovery.NewEngine(cfg.KeyRecovery.ShareDirs)
			if err != nil {
				return fmt.Errorf("init recovery engine: %w", err)
			}
			if total == 0 {
				total = cfg.KeyRecovery.TotalShares
			}

			coordinator, closeCoordinator := coordinatorFromConfig(cfg)
			defer closeCoordinator()
			ctx := cmd.Context()
			if known, err := coordinator.KnownLocations(ctx, keyID); err == nil && len(known) > 0 {
				log.Info("cluster reports additional known share locations", "key_id", keyID, "locations", known)
			}

			key, err := engine.RecoverKey(keyID, total, fingerprint)
			if err != nil {
				return fmt.Errorf("recover: %w", err)
			}
			fmt.Printf("recovered key=%s hex=%s\n", keyID, hex.EncodeToString(key))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key-id", "", "identifier of the key to recover")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "expected SHA-256 fingerprint of the recovered key")
	cmd.Flags().IntVar(&total, "total", 0, "total shares expected (defaults to config)")
	cmd.MarkFlagRequired("key-id")
	cmd.MarkFlagRequired("fingerprint")
	return cmd
}
