// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"encoding/json"
	"os"

	"fgp/postgres/internal/client"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// statusCmd reports whether the daemon is up. Exit code 0 means running
// and responsive, 1 means anything else, so the command is usable from
// scripts.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",

	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(socketPath); err != nil {
			pterm.Println("Daemon: NOT RUNNING")
			os.Exit(1)
		}

		resp, err := client.Health(socketPath)
		if err != nil || !resp.OK {
			// Socket file exists but nobody is answering.
			pterm.Println("Daemon: NOT RESPONDING")
			pterm.Printf("Socket: %s\n", socketPath)
			pterm.Println("Try: fgp-postgres stop && fgp-postgres start")
			os.Exit(1)
		}

		pterm.Println("Daemon: RUNNING")
		pterm.Printf("Socket: %s\n", socketPath)

		pretty, err := json.MarshalIndent(resp.Result, "", "  ")
		if err == nil {
			pterm.Println(string(pretty))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
