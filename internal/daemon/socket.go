// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package daemon

import (
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"fgp/postgres/internal/client"
	"fgp/postgres/internal/errors"
	"fgp/postgres/internal/paths"
)

// ErrAlreadyRunning is reported when another daemon already listens on
// the requested socket path.
var ErrAlreadyRunning = stderrors.New("daemon already running")

// socketMode restricts the socket to its owner. Database credentials
// sit behind this socket, so nobody else gets to connect.
const socketMode os.FileMode = 0o600

// claimSocket binds the Unix listening socket, handling leftovers from
// a previous daemon: an existing socket file is probed first, and only
// removed if nothing answers. Exactly one daemon can hold the listener
// for a given path.
func claimSocket(socketPath string, log *zap.Logger) (net.Listener, error) {
	if _, err := os.Stat(socketPath); err == nil {
		if client.Probe(socketPath) {
			return nil, errors.Wrap(errors.SocketError,
				fmt.Sprintf("socket %s is in use", socketPath), ErrAlreadyRunning)
		}
		log.Info("removing stale socket", zap.String("path", socketPath))
		if err := os.Remove(socketPath); err != nil {
			return nil, errors.Wrap(errors.SocketError, "failed to remove stale socket", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), paths.DirMode); err != nil {
		return nil, errors.Wrap(errors.SocketError, "failed to create socket directory", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, errors.Wrap(errors.SocketError, fmt.Sprintf("failed to listen on %s", socketPath), err)
	}

	if err := os.Chmod(socketPath, socketMode); err != nil {
		listener.Close()
		os.Remove(socketPath)
		return nil, errors.Wrap(errors.SocketError, "failed to restrict socket permissions", err)
	}

	return listener, nil
}

// writePID records the daemon PID next to the socket so the CLI can
// fall back to signalling when the socket stops answering.
func writePID(socketPath string) error {
	return os.WriteFile(paths.PIDFile(socketPath), []byte(fmt.Sprintf("%d", os.Getpid())), paths.FileMode)
}

// removeRuntimeFiles cleans the socket and PID file up after shutdown.
func removeRuntimeFiles(socketPath string) {
	os.Remove(socketPath)
	os.Remove(paths.PIDFile(socketPath))
}
