package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dafelhub/dataplatform/internal/querybuilder"
)

// selectCommand exercises the Query Builder (C7) from the CLI: it composes
// a parameterized SELECT instead of taking raw SQL, so dialect-correct
// identifier quoting and placeholder style come from querybuilder rather
// than from the operator.
func selectCommand() *cobra.Command {
	var columns []string
	var where []string
	var limit int

	cmd := &cobra.Command{
		Use:   "select [connector-id] [table]",
		Short: "Build and run a SELECT via the query builder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cc, ok := findConnector(cfg, args[0])
			if !ok {
				return fmt.Errorf("no connector configured with id %q", args[0])
			}

			b := querybuilder.New(querybuilder.Dialect(cc.Backend)).From(args[1], "")
			if len(columns) > 0 {
				b = b.Select(columns...)
			}
			for _, cond := range where {
				col, val, ok := strings.Cut(cond, "=")
				if !ok {
					return fmt.Errorf("invalid --where %q, expected column=value", cond)
				}
				b = b.Where(strings.TrimSpace(col), querybuilder.OpEq, strings.TrimSpace(val))
			}
			if limit > 0 {
				b = b.Limit(limit)
			}
			built, err := b.Build()
			if err != nil {
				return fmt.Errorf("build query: %w", err)
			}

			conn, err := buildConnector(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := conn.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Disconnect(ctx)

			result, err := conn.Execute(ctx, built.SQL, built.Params...)
			if err != nil {
				return fmt.Errorf("execute: %w", err)
			}
			fmt.Printf("sql=%q params=%v rows_returned=%d\n", built.SQL, built.Params, result.RowsReturned)
			for _, row := range result.Rows {
				fmt.Println(row)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&columns, "columns", nil, "columns to select (default *)")
	cmd.Flags().StringArrayVar(&where, "where", nil, "column=value equality filter, repeatable")
	cmd.Flags().IntVar(&limit, "limit", 0, "row limit")
	return cmd
}
