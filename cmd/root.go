// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package cmd provides the command-line interface for the fgp-postgres daemon.
// It implements subcommands for starting and stopping the daemon, checking its
// status, and running one-shot queries, using the Cobra CLI framework.
package cmd

import (
	"fmt"
	"os"

	"fgp/postgres/internal/paths"

	"github.com/spf13/cobra"
)

var (
	showVersion bool

	// socketPath is the resolved socket location, shared by every
	// subcommand. Overridable with --socket.
	socketPath string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:           "fgp-postgres",
	Short:         "PostgreSQL daemon speaking line-delimited JSON over a Unix socket",
	Long:          `fgp-postgres is a long-lived local daemon that holds a pool of PostgreSQL connections and serves query, execute, transaction and introspection requests over a Unix domain socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("fgp-postgres %s\n", Version)
			return nil
		}
		// If no flag is set, show help
		return cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if socketPath == "" {
			socketPath = paths.Socket()
		}
	},
}

// Execute runs the CLI application.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "", "Path to the daemon socket (default: $FGP_HOME/services/postgres/daemon.sock)")
}
