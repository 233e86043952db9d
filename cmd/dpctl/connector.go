package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dafelhub/dataplatform/internal/connector"
	"github.com/dafelhub/dataplatform/internal/policy"
	"github.com/dafelhub/dataplatform/internal/registry"
	"github.com/dafelhub/dataplatform/internal/securewrapper"
)

func buildConnector(connectorID string) (connector.Connector, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cc, ok := findConnector(cfg, connectorID)
	if !ok {
		return nil, fmt.Errorf("no connector configured with id %q", connectorID)
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
	return registry.New(connCfg, log, true)
}

func connectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connect [connector-id]",
		Short: "Test connectivity to a configured connector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := conn.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Disconnect(ctx)

			result := conn.TestConnection(ctx)
			if !result.Success {
				return fmt.Errorf("test connection failed: %w", result.Err)
			}
			fmt.Printf("ok  elapsed=%s server=%v\n", result.Elapsed, result.ServerInfo)
			return nil
		},
	}
}

func queryCommand() *cobra.Command {
	var policyFile, subjectID, subjectRoles string

	cmd := &cobra.Command{
		Use:   "query [connector-id] [sql]",
		Short: "Execute a query against a configured connector and print the results",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector(args[0])
			if err != nil {
				return err
			}

			// Wrapping with the Secure Wrapper here is what makes this
			// command exercise the Policy Set (C9): without --policy-file
			// a bare connector is used, same as before.
			if policyFile != "" {
				set, err := policy.LoadSetFromFile(policyFile)
				if err != nil {
					return err
				}
				subject := securewrapper.Subject{ID: subjectID}
				if subjectRoles != "" {
					subject.Roles = strings.Split(subjectRoles, ",")
				}
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cc, _ := findConnector(cfg, args[0])
				conn = securewrapper.New(conn, set, nil, subject, cc.Database, 0)
			}

			ctx := cmd.Context()
			if err := conn.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Disconnect(ctx)

			result, err := conn.Execute(ctx, args[1])
			if err != nil {
				return fmt.Errorf("execute: %w", err)
			}
			fmt.Printf("rows_returned=%d rows_affected=%d duration=%s\n",
				result.RowsReturned, result.RowsAffected, result.Duration)
			for _, row := range result.Rows {
				fmt.Println(row)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policyFile, "policy-file", "", "YAML Policy Set to enforce before executing the query")
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "subject ID to evaluate policies against (requires --policy-file)")
	cmd.Flags().StringVar(&subjectRoles, "subject-roles", "", "comma-separated subject roles to evaluate policies against")
	return cmd
}
