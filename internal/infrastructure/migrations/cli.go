package migrations

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// CLI exposes MigrationManager as a cobra command tree. It no longer owns a
// backup manager or health checker: those carried a hardcoded "alerts"
// table name and were wired with a nil *sql.DB, so every check or backup
// attempt through them would have panicked the first time a caller actually
// invoked one. Dropped rather than repaired, since schema backup/health
// auditing for this platform already lives in internal/configbackup and
// internal/monitor.
type CLI struct {
	manager *MigrationManager
	logger  *slog.Logger
}

// NewCLI creates the CLI for manager.
func NewCLI(manager *MigrationManager, logger *slog.Logger) *CLI {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLI{manager: manager, logger: logger}
}

// GetRootCommand returns the root cobra command.
func (cli *CLI) GetRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migration management",
		Long:  "Apply, roll back, and inspect goose-managed schema migrations against a connector's backing database.",
	}

	rootCmd.AddCommand(
		cli.upCommand(),
		cli.downCommand(),
		cli.statusCommand(),
		cli.versionCommand(),
		cli.createCommand(),
		cli.redoCommand(),
		cli.resetCommand(),
		cli.validateCommand(),
		cli.fixCommand(),
	)

	return rootCmd
}

func (cli *CLI) upCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up [version]",
		Short: "Apply migrations",
		Long:  "Apply all pending migrations or up to a specific version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var err error
			if len(args) == 0 {
				err = cli.manager.Up(ctx)
			} else {
				version, parseErr := strconv.ParseInt(args[0], 10, 64)
				if parseErr != nil {
					return fmt.Errorf("invalid version number: %w", parseErr)
				}
				err = cli.manager.UpTo(ctx, version)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("Migrations applied successfully")
			return nil
		},
	}
}

func (cli *CLI) downCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down [steps]",
		Short: "Rollback migrations",
		Long:  "Rollback all migrations or a specific number of steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var err error
			if len(args) == 0 {
				err = cli.manager.Down(ctx)
			} else {
				steps, parseErr := strconv.Atoi(args[0])
				if parseErr != nil {
					return fmt.Errorf("invalid number of steps: %w", parseErr)
				}
				for i := 0; i < steps; i++ {
					if downErr := cli.manager.DownByOne(ctx); downErr != nil {
						err = downErr
						break
					}
				}
			}
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}

			fmt.Println("Migrations rolled back successfully")
			return nil
		},
	}
}

func (cli *CLI) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			statuses, err := cli.manager.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			version, err := cli.manager.Version(ctx)
			if err != nil {
				return fmt.Errorf("failed to get current version: %w", err)
			}

			fmt.Printf("Current migration version: %d\n\n", version)
			fmt.Printf("%-10s %-15s %-12s %s\n", "VERSION", "APPLIED", "TIMESTAMP", "DESCRIPTION")
			fmt.Println(strings.Repeat("-", 80))
			for _, status := range statuses {
				applied := "NO"
				if status.IsApplied {
					applied = "YES"
				}
				timestamp := "N/A"
				if !status.Timestamp.IsZero() {
					timestamp = status.Timestamp.Format("2006-01-02 15:04")
				}
				fmt.Printf("%-10d %-15s %-12s %s\n", status.VersionID, applied, timestamp, status.Description)
			}
			return nil
		},
	}
}

func (cli *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := cli.manager.Version(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get migration version: %w", err)
			}
			fmt.Printf("Current migration version: %d\n", version)
			return nil
		},
	}
}

func (cli *CLI) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename, err := cli.manager.Create(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to create migration: %w", err)
			}
			fmt.Printf("Created migration file: %s\n", filename)
			return nil
		},
	}
}

func (cli *CLI) redoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "redo",
		Short: "Redo the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.manager.Redo(context.Background()); err != nil {
				return fmt.Errorf("failed to redo migration: %w", err)
			}
			fmt.Println("Last migration redone successfully")
			return nil
		},
	}
}

func (cli *CLI) resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print("WARNING: This will reset ALL migrations and potentially lose data. Continue? (yes/no): ")
			var response string
			fmt.Scanln(&response)
			if strings.ToLower(response) != "yes" {
				fmt.Println("Operation cancelled")
				return nil
			}

			if err := cli.manager.Reset(context.Background()); err != nil {
				return fmt.Errorf("failed to reset migrations: %w", err)
			}
			fmt.Println("All migrations reset successfully")
			return nil
		},
	}
}

func (cli *CLI) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.manager.Validate(context.Background()); err != nil {
				return fmt.Errorf("migration validation failed: %w", err)
			}
			fmt.Println("Migration validation successful")
			return nil
		},
	}
}

func (cli *CLI) fixCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fix",
		Short: "Fix migration issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.manager.Fix(context.Background()); err != nil {
				return fmt.Errorf("failed to fix migrations: %w", err)
			}
			fmt.Println("Migration fix completed successfully")
			return nil
		},
	}
}

// Execute runs the CLI.
func (cli *CLI) Execute() error {
	return cli.GetRootCommand().Execute()
}
