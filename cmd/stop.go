// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"fgp/postgres/internal/client"
	"fgp/postgres/internal/paths"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var stopWait = 10 * time.Second

// stopCmd shuts the daemon down. It asks politely over the socket first
// and falls back to signalling the recorded PID if the daemon is not
// responding.
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the PostgreSQL daemon",

	RunE: func(cmd *cobra.Command, args []string) error {
		if !client.Probe(socketPath) {
			pterm.Println("Daemon is not running")
			cleanupRuntimeFiles()
			return nil
		}

		resp, err := client.Stop(socketPath)
		if err != nil || !resp.OK {
			// Socket is up but the daemon is not answering; fall
			// back to the PID file.
			return stopByPID()
		}

		deadline := time.Now().Add(stopWait)
		for time.Now().Before(deadline) {
			if !client.Probe(socketPath) {
				pterm.Success.Println("Daemon stopped")
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return fmt.Errorf("daemon did not stop within %s", stopWait)
	},
}

func stopByPID() error {
	pidPath := paths.PIDFile(socketPath)
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return fmt.Errorf("daemon is not responding and no PID file was found at %s", pidPath)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("unreadable PID file %s", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err == nil {
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			pterm.Printf("Process %d is already gone\n", pid)
		} else {
			pterm.Printf("Sent SIGTERM to process %d\n", pid)
		}
	}
	cleanupRuntimeFiles()
	return nil
}

// cleanupRuntimeFiles removes a stale socket and PID file left behind by
// a daemon that did not exit cleanly.
func cleanupRuntimeFiles() {
	_ = os.Remove(socketPath)
	_ = os.Remove(paths.PIDFile(socketPath))
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
