// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package client talks to a running daemon over its Unix socket. The
// CLI's stop and status commands use it, as does the stale-socket probe
// during start.
package client

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"fgp/postgres/internal/errors"
	"fgp/postgres/internal/protocol"
)

const (
	// probeTimeout bounds the liveness probe connect.
	probeTimeout = 500 * time.Millisecond

	// requestTimeout bounds one full request/response exchange.
	requestTimeout = 10 * time.Second
)

// Probe reports whether a daemon is accepting connections on the
// socket path. It has no side effects on the daemon.
func Probe(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Do sends one request and waits for its response.
func Do(socketPath string, req *protocol.Request) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, probeTimeout)
	if err != nil {
		return nil, errors.Wrap(errors.SocketError, "daemon not reachable", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(requestTimeout))

	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, errors.Wrap(errors.ProtocolError, "failed to encode request", err)
	}
	if _, err := conn.Write(data); err != nil {
		return nil, errors.Wrap(errors.SocketError, "failed to send request", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, errors.Wrap(errors.SocketError, "failed to read response", err)
	}

	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, errors.Wrap(errors.ProtocolError, "malformed response envelope", err)
	}
	return &resp, nil
}

// Health asks the daemon for its health report.
func Health(socketPath string) (*protocol.Response, error) {
	return Do(socketPath, &protocol.Request{
		ID:     "health",
		V:      protocol.Version,
		Method: "health",
	})
}

// Stop asks the daemon to shut down gracefully.
func Stop(socketPath string) (*protocol.Response, error) {
	return Do(socketPath, &protocol.Request{
		ID:     "stop",
		V:      protocol.Version,
		Method: "daemon.stop",
	})
}
