// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package connections

import (
	"fmt"
	"os"
	"strings"

	"fgp/postgres/internal/dsn"
	"fgp/postgres/internal/errors"
)

// Sources a resolved DSN can come from, reported so the CLI can tell
// the user which one won.
const (
	SourceDatabaseURL = "DATABASE_URL"
	SourceEnv         = "libpq environment"
	SourceStore       = "connections.json"
)

// Resolve produces the normalized DSN the daemon will connect with.
// Precedence: DATABASE_URL, then libpq-style PG* variables, then the
// named (or default) entry of the connection store. name only applies
// to the store; the environment always wins when set.
func Resolve(name string) (target string, source string, err error) {
	if raw := strings.TrimSpace(os.Getenv("DATABASE_URL")); raw != "" {
		info, err := dsn.Parse(raw)
		if err != nil {
			return "", "", errors.Wrap(errors.ConfigError, "DATABASE_URL is not a usable DSN", err)
		}
		return info.Normalize(), SourceDatabaseURL, nil
	}

	if os.Getenv("PGHOST") != "" {
		return dsn.FromEnv().Normalize(), SourceEnv, nil
	}

	store, err := Load()
	if err != nil {
		return "", "", errors.Wrap(errors.ConfigError, "failed to read connection store", err)
	}

	if name == "" {
		name = store.Default
	}
	if name != "" {
		entry, ok := store.Connections[name]
		if !ok {
			return "", "", errors.Newf(errors.ConfigError, "connection %q not found in connection store", name)
		}
		target, err := entry.resolve(name)
		if err != nil {
			return "", "", err
		}
		return target, SourceStore, nil
	}

	return "", "", errors.New(errors.ConfigError,
		"no database connection configured; set DATABASE_URL, use PGHOST/PGUSER/etc., or create "+
			"a connections.json entry under ~/.fgp/auth/postgres")
}

// resolve turns one store entry into a normalized DSN, pulling the
// password from the OS keyring when the file omits it.
func (n Named) resolve(name string) (string, error) {
	if n.URL != "" {
		info, err := dsn.Parse(n.URL)
		if err != nil {
			return "", errors.Wrap(errors.ConfigError, fmt.Sprintf("connection %q has an invalid url", name), err)
		}
		return info.Normalize(), nil
	}

	info := &dsn.Info{
		Host:     n.Host,
		Port:     fmt.Sprintf("%d", n.Port),
		User:     n.User,
		Password: n.Password,
		Database: n.Database,
		Params:   map[string]string{},
	}
	if info.Host == "" {
		info.Host = "localhost"
	}
	if n.Port == 0 {
		info.Port = "5432"
	}
	if info.User == "" {
		info.User = "postgres"
	}
	if info.Database == "" {
		info.Database = "postgres"
	}
	if info.Password == "" {
		if pw, ok := keyringPassword(name); ok {
			info.Password = pw
		}
	}
	if n.SSL {
		info.Params["sslmode"] = "require"
	}

	return info.Normalize(), nil
}
