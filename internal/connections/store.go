// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package connections resolves the backend connection target. Named
// connections live in ~/.fgp/auth/postgres/connections.json; passwords
// may be omitted there and stored in the OS keyring instead. Resolution
// precedence follows the usual conventions: DATABASE_URL first, then
// libpq environment variables, then the connection store.
package connections

import (
	"encoding/json"
	stderrors "errors"
	"os"

	"github.com/99designs/keyring"

	"fgp/postgres/internal/paths"
)

// keyringService namespaces our entries in the OS keyring.
const keyringService = "fgp-postgres"

// Named is one stored connection. Either URL is set, or the individual
// fields are.
type Named struct {
	URL      string `json:"url,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`
	SSL      bool   `json:"ssl,omitempty"`
}

// Store is the connections.json file structure.
type Store struct {
	Connections map[string]Named `json:"connections"`
	Default     string           `json:"default,omitempty"`
}

// Load reads the connection store. A missing file returns an empty
// store, not an error; the caller decides whether that is fatal.
func Load() (*Store, error) {
	data, err := os.ReadFile(paths.ConnectionsFile())
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return &Store{Connections: map[string]Named{}}, nil
		}
		return nil, err
	}

	var s Store
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Connections == nil {
		s.Connections = map[string]Named{}
	}
	return &s, nil
}

// keyringPassword looks up the password for a named connection in the
// OS keyring. Absence is not an error; the connection may simply not
// need one.
func keyringPassword(name string) (string, bool) {
	ring, err := keyring.Open(keyring.Config{ServiceName: keyringService})
	if err != nil {
		return "", false
	}
	item, err := ring.Get("connection:" + name)
	if err != nil {
		return "", false
	}
	return string(item.Data), true
}
