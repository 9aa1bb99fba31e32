// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package paths resolves the on-disk layout of the fgp service tree.
// All runtime and configuration files live under a single FGP home
// directory (~/.fgp by default, overridable through FGP_HOME):
//
//	~/.fgp/services/postgres/daemon.sock   Unix socket
//	~/.fgp/services/postgres/daemon.pid    PID file
//	~/.fgp/services/postgres/daemon.log    background daemon log
//	~/.fgp/auth/postgres/connections.json  named connection store
package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (
	// ServiceName identifies this daemon inside the fgp tree.
	ServiceName = "postgres"

	// DirMode is applied to directories created under the fgp home.
	// Connection credentials may live here, so keep it private.
	DirMode os.FileMode = 0o700

	// FileMode is applied to files created under the fgp home.
	FileMode os.FileMode = 0o600
)

// Home returns the fgp home directory. FGP_HOME takes precedence;
// otherwise ~/.fgp is used.
func Home() string {
	if h := os.Getenv("FGP_HOME"); h != "" {
		return h
	}
	return filepath.Join(xdg.Home, ".fgp")
}

// ServiceDir returns the runtime directory for the postgres service.
func ServiceDir() string {
	return filepath.Join(Home(), "services", ServiceName)
}

// Socket returns the default Unix socket path.
func Socket() string {
	return filepath.Join(ServiceDir(), "daemon.sock")
}

// PIDFile returns the PID file path for a given socket path. The PID file
// always sits next to the socket so that overridden socket locations keep
// their own PID file.
func PIDFile(socketPath string) string {
	return socketPath + ".pid"
}

// LogFile returns the log file the background daemon writes to.
func LogFile() string {
	return filepath.Join(ServiceDir(), "daemon.log")
}

// ConnectionsFile returns the named connection store path.
func ConnectionsFile() string {
	return filepath.Join(Home(), "auth", ServiceName, "connections.json")
}
