// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"fgp/postgres/internal/client"
	"fgp/postgres/internal/connections"
	"fgp/postgres/internal/daemon"
	"fgp/postgres/internal/logging"
	"fgp/postgres/internal/paths"

	"atomicgo.dev/cursor"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	startForeground    bool
	startLogJSON       bool
	startConnection    string
	startMaxConns      int
	startAcquireWait   time.Duration
	startIdleTimeout   time.Duration
	startDrainTimeout  time.Duration
	startWarmConns     int
	startLogLevel      string
	startReadyTimeout  = 10 * time.Second
	startProbeInterval = 200 * time.Millisecond
)

// startCmd launches the daemon. By default it forks a detached background
// process and waits for the socket to come up; with --foreground it runs
// the server in the current process until interrupted.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the PostgreSQL daemon",
	Long: `The start command launches the fgp-postgres daemon. The connection target is
resolved, in order, from DATABASE_URL, PG* environment variables, or the named
connection in the connections file. By default the daemon is detached into the
background; pass --foreground to keep it attached to the current terminal.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		// Resolve credentials up front so a misconfiguration fails
		// here rather than inside a detached child.
		target, source, err := connections.Resolve(startConnection)
		if err != nil {
			return err
		}

		if startForeground {
			return runForeground(target)
		}
		return runBackground(target, source)
	},
}

func runForeground(target string) error {
	log, err := logging.New(startLogLevel, !startLogJSON)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	srv, err := daemon.New(daemon.Config{
		SocketPath:     socketPath,
		DSN:            target,
		MaxConns:       startMaxConns,
		AcquireTimeout: startAcquireWait,
		IdleTimeout:    startIdleTimeout,
		DrainTimeout:   startDrainTimeout,
		WarmConns:      startWarmConns,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		if stderrors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("daemon already running on %s", socketPath)
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		srv.Stop()
	case <-srv.Done():
	}
	srv.Wait()
	return nil
}

func runBackground(target, source string) error {
	if client.Probe(socketPath) {
		pterm.Printf("Daemon already running on %s\n", socketPath)
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	childArgs := []string{
		"start", "--foreground", "--log-json",
		"--socket", socketPath,
		"--max-conns", fmt.Sprint(startMaxConns),
		"--acquire-timeout", startAcquireWait.String(),
		"--idle-timeout", startIdleTimeout.String(),
		"--drain-timeout", startDrainTimeout.String(),
		"--warm", fmt.Sprint(startWarmConns),
		"--log-level", startLogLevel,
	}
	if startConnection != "" {
		childArgs = append(childArgs, "--connection", startConnection)
	}

	if err := os.MkdirAll(paths.ServiceDir(), paths.DirMode); err != nil {
		return err
	}
	logFile, err := os.OpenFile(paths.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, paths.FileMode)
	if err != nil {
		return err
	}
	defer func() { _ = logFile.Close() }()

	child := exec.Command(exe, childArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = os.Environ()
	// Detach from the controlling terminal so the daemon survives
	// the parent shell exiting.
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to launch daemon: %w", err)
	}
	// The child is on its own from here.
	_ = child.Process.Release()

	cursor.Hide()
	defer cursor.Show()
	stopSpinner := startInlineSpinner(os.Stderr, "Starting daemon", brailleFrames, 80*time.Millisecond)

	deadline := time.Now().Add(startReadyTimeout)
	for time.Now().Before(deadline) {
		if client.Probe(socketPath) {
			stopSpinner()
			pterm.Success.Printf("Daemon started on %s\n", socketPath)
			pterm.Printf("Connection: %s (%s)\n", logging.MaskPassword(target), source)
			pterm.Printf("Logs: %s\n", paths.LogFile())
			return nil
		}
		time.Sleep(startProbeInterval)
	}
	stopSpinner()
	return fmt.Errorf("daemon did not become ready within %s; check %s", startReadyTimeout, paths.LogFile())
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().BoolVarP(&startForeground, "foreground", "f", false, "Run in the foreground instead of detaching")
	startCmd.Flags().StringVarP(&startConnection, "connection", "c", "", "Named connection to use (default: the configured default)")
	startCmd.Flags().IntVar(&startMaxConns, "max-conns", 4, "Maximum number of pooled PostgreSQL connections")
	startCmd.Flags().DurationVar(&startAcquireWait, "acquire-timeout", 5*time.Second, "How long a request waits for a free connection")
	startCmd.Flags().DurationVar(&startIdleTimeout, "idle-timeout", 5*time.Minute, "Idle time after which a pooled connection is closed")
	startCmd.Flags().DurationVar(&startDrainTimeout, "drain-timeout", daemon.DefaultDrainTimeout, "How long shutdown waits for in-flight requests")
	startCmd.Flags().IntVar(&startWarmConns, "warm", 1, "Connections to open eagerly at startup")
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	startCmd.Flags().BoolVar(&startLogJSON, "log-json", false, "Write JSON logs to the service log file")
	_ = startCmd.Flags().MarkHidden("log-json")
}
