// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package errors defines typed errors with machine-readable kinds.
// Every failure the daemon can report to a client maps to exactly one
// Kind, which becomes the error code of the response envelope. Kinds
// also decide error policy: config and socket errors are fatal at
// startup, everything else is converted to a per-request response and
// never takes the daemon down.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// ConfigError means no usable connection target could be resolved.
	// Fatal at startup; the daemon does not start.
	ConfigError Kind = "config_error"
	// SocketError covers bind failures, permission problems and
	// already-running conflicts on the daemon socket.
	SocketError Kind = "socket_error"
	// PoolExhausted means no backend connection became available
	// within the acquire timeout.
	PoolExhausted Kind = "pool_exhausted"
	// ConnectionError means the backend was unreachable or refused
	// authentication. Recoverable; retried lazily on the next acquire.
	ConnectionError Kind = "connection_error"
	// ProtocolError indicates a malformed request envelope.
	ProtocolError Kind = "protocol_error"
	// MethodNotFound indicates an unknown method name.
	MethodNotFound Kind = "method_not_found"
	// InvalidParams indicates a missing or malformed method parameter.
	InvalidParams Kind = "invalid_params"
	// QueryError is a backend-reported SQL failure, carrying the
	// backend's SQLSTATE and message.
	QueryError Kind = "query_error"
	// TransactionError is a SQL failure inside postgres.transaction.
	// By the time a client sees it, the rollback already happened.
	TransactionError Kind = "transaction_error"
	// Internal is an unexpected handler fault.
	Internal Kind = "internal_error"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// Newf formats a message the way fmt.Sprintf does.
func Newf(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain. Errors that carry no
// kind report Internal.
func KindOf(err error) Kind {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// MessageOf extracts the human-friendly message from an error chain,
// falling back to the plain error string.
func MessageOf(err error) string {
	var e *E
	if stderrors.As(err, &e) {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return err.Error()
}
