// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"fgp/postgres/internal/errors"
)

// scriptedExec records every statement it runs and fails the ones a
// test scripts to fail.
type scriptedExec struct {
	executed []string
	failures map[string]error
	tags     map[string]pgconn.CommandTag
}

func newScriptedExec() *scriptedExec {
	return &scriptedExec{
		failures: map[string]error{},
		tags:     map[string]pgconn.CommandTag{},
	}
}

func (s *scriptedExec) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	s.executed = append(s.executed, sql)
	if err, ok := s.failures[sql]; ok {
		return pgconn.CommandTag{}, err
	}
	if tag, ok := s.tags[sql]; ok {
		return tag, nil
	}
	return pgconn.NewCommandTag("OK"), nil
}

func syntaxError() *pgconn.PgError {
	return &pgconn.PgError{Severity: "ERROR", Code: "42601", Message: "syntax error at or near \"BOOM\""}
}

func TestTransactionCommitsAllStatements(t *testing.T) {
	db := newScriptedExec()
	db.tags["INSERT INTO t VALUES (1)"] = pgconn.NewCommandTag("INSERT 0 1")
	db.tags["UPDATE t SET x = 2"] = pgconn.NewCommandTag("UPDATE 3")

	res, err := Transaction(context.Background(), db, []string{
		"INSERT INTO t VALUES (1)",
		"UPDATE t SET x = 2",
	})
	require.NoError(t, err)
	require.True(t, res.Committed)
	require.Equal(t, []TxStatementResult{
		{Statement: 0, RowsAffected: 1},
		{Statement: 1, RowsAffected: 3},
	}, res.Statements)
	require.Equal(t, []string{
		"BEGIN",
		"INSERT INTO t VALUES (1)",
		"UPDATE t SET x = 2",
		"COMMIT",
	}, db.executed)
}

func TestTransactionRollsBackOnFailure(t *testing.T) {
	db := newScriptedExec()
	db.failures["BOOM"] = syntaxError()

	res, err := Transaction(context.Background(), db, []string{
		"INSERT INTO t VALUES (1)",
		"BOOM",
		"INSERT INTO t VALUES (2)",
	})
	require.Nil(t, res)
	require.Error(t, err)

	// The failed statement's index is reported, the statement after it
	// never runs, and the rollback happens before the error surfaces.
	var se *StatementError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 1, se.StatementIndex())
	require.Equal(t, errors.TransactionError, errors.KindOf(err))
	require.Equal(t, []string{"BEGIN", "INSERT INTO t VALUES (1)", "BOOM", "ROLLBACK"}, db.executed)
	require.NotContains(t, db.executed, "COMMIT")

	// Ordinary SQL failure: rollback succeeded, session stays usable.
	require.False(t, Fatal(err))
}

func TestTransactionBeginFailure(t *testing.T) {
	db := newScriptedExec()
	db.failures["BEGIN"] = syntaxError()

	_, err := Transaction(context.Background(), db, []string{"SELECT 1"})
	require.Error(t, err)
	require.Equal(t, errors.TransactionError, errors.KindOf(err))
	require.Equal(t, []string{"BEGIN"}, db.executed)
}

func TestTransactionCommitFailureRollsBack(t *testing.T) {
	db := newScriptedExec()
	db.failures["COMMIT"] = syntaxError()

	res, err := Transaction(context.Background(), db, []string{"SELECT 1", "SELECT 2"})
	require.Nil(t, res)

	var se *StatementError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 1, se.StatementIndex())
	require.Equal(t, []string{"BEGIN", "SELECT 1", "SELECT 2", "COMMIT", "ROLLBACK"}, db.executed)
}

func TestTransactionRollbackFailureIsFatal(t *testing.T) {
	db := newScriptedExec()
	db.failures["BOOM"] = syntaxError()
	db.failures["ROLLBACK"] = &pgconn.PgError{Severity: "FATAL", Code: "57P01", Message: "terminating connection"}

	_, err := Transaction(context.Background(), db, []string{"BOOM"})
	require.Error(t, err)

	// The session is mid-transaction with an unknown state; it must not
	// be pooled again.
	require.True(t, Fatal(err))
}

func TestTransactionRejectsEmptyStatements(t *testing.T) {
	db := newScriptedExec()

	_, err := Transaction(context.Background(), db, nil)
	require.Error(t, err)
	require.Equal(t, errors.InvalidParams, errors.KindOf(err))
	require.Empty(t, db.executed)
}
