// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fgp/postgres/internal/connections"
	"fgp/postgres/internal/sqlexec"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

var (
	queryConnection string
	queryExecute    bool
	queryTimeout    = 30 * time.Second
)

// queryCmd runs a single SQL statement against the resolved connection
// without going through the daemon. Useful for quick checks and for
// verifying credentials before starting the daemon.
var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a one-shot SQL statement",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()

		conn, err := oneShotConnect(ctx, queryConnection)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close(context.Background()) }()

		var result any
		if queryExecute {
			result, err = sqlexec.Execute(ctx, conn, args[0])
		} else {
			result, err = sqlexec.Query(ctx, conn, args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

// oneShotConnect resolves the connection target and opens a single
// direct connection to it.
func oneShotConnect(ctx context.Context, name string) (*pgx.Conn, error) {
	target, _, err := connections.Resolve(name)
	if err != nil {
		return nil, err
	}
	return pgx.Connect(ctx, target)
}

func printJSON(v any) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryConnection, "connection", "c", "", "Named connection to use")
	queryCmd.Flags().BoolVar(&queryExecute, "execute", false, "Treat the statement as a write and report rows affected")
}
