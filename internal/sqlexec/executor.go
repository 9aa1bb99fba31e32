// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sqlexec executes SQL against a leased backend session and
// shapes the results for the wire. It implements the daemon's method
// surface: query, execute, transaction, and schema introspection.
//
// All functions take narrow interfaces satisfied by *pgx.Conn so the
// transaction state machine and result shaping stay testable without a
// live backend. Backend SQL failures are wrapped with the QueryError or
// TransactionError kind and carry the backend's SQLSTATE and message,
// distinguishable from pool and protocol errors.
package sqlexec

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fgp/postgres/internal/errors"
)

// Querier runs SQL that returns rows. *pgx.Conn satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Execer runs SQL without reading rows back. *pgx.Conn satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// QueryResult is the wire shape of postgres.query. Column order matches
// the backend's result descriptor order.
type QueryResult struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Columns  []string         `json:"columns"`
}

// ExecResult is the wire shape of postgres.execute.
type ExecResult struct {
	RowsAffected int64 `json:"rows_affected"`
}

// Query runs sql and collects every row into a column-name keyed map.
func Query(ctx context.Context, q Querier, sql string, args ...any) (*QueryResult, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapSQL(errors.QueryError, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	columns := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = fd.Name
	}

	result := &QueryResult{
		Rows:    []map[string]any{},
		Columns: columns,
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, wrapSQL(errors.QueryError, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = NormalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQL(errors.QueryError, err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// Execute runs a non-SELECT statement and reports affected rows.
func Execute(ctx context.Context, e Execer, sql string) (*ExecResult, error) {
	tag, err := e.Exec(ctx, sql)
	if err != nil {
		return nil, wrapSQL(errors.QueryError, err)
	}
	return &ExecResult{RowsAffected: tag.RowsAffected()}, nil
}

// Ping verifies backend connectivity on a leased session.
func Ping(ctx context.Context, q Querier) error {
	rows, err := q.Query(ctx, "SELECT 1")
	if err != nil {
		return wrapSQL(errors.QueryError, err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return wrapSQL(errors.QueryError, err)
	}
	return nil
}

// NormalizeValue converts driver values into JSON-friendly ones. pgx
// hands UUIDs back as [16]byte and bytea as []byte; both would marshal
// uselessly without help. Everything else is passed through.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
			val[0], val[1], val[2], val[3], val[4], val[5], val[6], val[7],
			val[8], val[9], val[10], val[11], val[12], val[13], val[14], val[15])
	case []byte:
		if len(val) == 16 {
			return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
				val[0], val[1], val[2], val[3], val[4], val[5], val[6], val[7],
				val[8], val[9], val[10], val[11], val[12], val[13], val[14], val[15])
		}
		return fmt.Sprintf("\\x%x", val)
	case nil:
		return nil
	default:
		return v
	}
}

// wrapSQL classifies a backend failure. SQL-level errors keep the given
// kind and carry the backend's SQLSTATE; anything else means the
// session itself failed and is reported as a connection error.
func wrapSQL(kind errors.Kind, err error) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return errors.Wrap(kind, fmt.Sprintf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code), err)
	}
	return errors.Wrap(errors.ConnectionError, "backend connection failed", err)
}

// Fatal reports whether an error means the session should be discarded
// rather than returned to the pool. Ordinary SQL errors (bad syntax,
// constraint violations) leave the session usable; transport failures,
// FATAL/PANIC severities, and connection-class SQLSTATEs poison it.
func Fatal(err error) bool {
	if err == nil {
		return false
	}

	var se *StatementError
	if stderrors.As(err, &se) && se.fatal {
		return true
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Severity {
		case "FATAL", "PANIC":
			return true
		}
		// Class 08: connection exceptions. 57P01..57P03: server
		// shutdown and connection refusal.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return true
		}
		switch pgErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
		return false
	}

	var e *errors.E
	if stderrors.As(err, &e) {
		return e.Kind == errors.ConnectionError
	}
	return false
}
