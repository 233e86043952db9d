package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dafelhub/dataplatform/internal/connector"
	"github.com/dafelhub/dataplatform/internal/schema"
)

func schemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and compare connector schemas",
	}
	cmd.AddCommand(schemaDiscoverCommand())
	return cmd
}

func schemaDiscoverCommand() *cobra.Command {
	var tables []string
	cmd := &cobra.Command{
		Use:   "discover [connector-id]",
		Short: "Discover the schema exposed by a configured connector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			if err := conn.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Disconnect(ctx)

			snapshot, err := schema.Discover(ctx, conn, connector.SchemaScope{Tables: tables})
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			for _, t := range snapshot.Tables {
				fmt.Printf("table=%s rows~=%d columns=%d\n", t.Name, t.RowEstimate, len(t.Columns))
				for _, c := range t.Columns {
					fmt.Printf("  %s %s\n", c.Name, c.NativeType)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "restrict discovery to these tables")
	return cmd
}
