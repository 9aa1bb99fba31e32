// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"fgp/postgres/internal/connections"
	"fgp/postgres/internal/logging"
	"fgp/postgres/internal/paths"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// connectionsCmd lists the configured connection targets with passwords
// masked, so users can verify what the daemon would connect to without
// exposing credentials.
var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List configured database connections",

	RunE: func(cmd *cobra.Command, args []string) error {
		if env := strings.TrimSpace(os.Getenv("DATABASE_URL")); env != "" {
			pterm.Printf("DATABASE_URL is set and takes precedence: %s\n", logging.MaskPassword(env))
			pterm.Println()
		}

		store, err := connections.Load()
		if err != nil {
			return err
		}
		if len(store.Connections) == 0 {
			pterm.Printf("No connections configured in %s\n", paths.ConnectionsFile())
			return nil
		}

		names := make([]string, 0, len(store.Connections))
		for name := range store.Connections {
			names = append(names, name)
		}
		sort.Strings(names)

		rows := pterm.TableData{{"", "Name", "Target"}}
		for _, name := range names {
			marker := ""
			if name == store.Default {
				marker = "*"
			}
			rows = append(rows, []string{marker, name, describeConnection(store.Connections[name])})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}
		if store.Default != "" {
			pterm.Println()
			pterm.Println("* default connection")
		}
		return nil
	},
}

func describeConnection(c connections.Named) string {
	if c.URL != "" {
		return logging.MaskPassword(c.URL)
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	db := c.Database
	if db == "" {
		db = "postgres"
	}
	return fmt.Sprintf("%s:%d/%s", host, port, db)
}

func init() {
	rootCmd.AddCommand(connectionsCmd)
}
