// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"time"

	"fgp/postgres/internal/sqlexec"

	"github.com/spf13/cobra"
)

var (
	tablesConnection string
	tablesSchema     string
)

// tablesCmd lists tables in a schema over a one-shot connection.
var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables in a schema",

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		conn, err := oneShotConnect(ctx, tablesConnection)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close(context.Background()) }()

		result, err := sqlexec.Tables(ctx, conn, tablesSchema)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	rootCmd.AddCommand(tablesCmd)
	tablesCmd.Flags().StringVarP(&tablesConnection, "connection", "c", "", "Named connection to use")
	tablesCmd.Flags().StringVar(&tablesSchema, "schema", "public", "Schema to list tables from")
}
