// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	"fmt"

	"fgp/postgres/internal/errors"
)

// txState tracks where a transaction unit is in its lifecycle. The
// all-or-nothing guarantee is enforced by structure: commit is only
// reachable from txExecuting after every statement succeeded, and every
// failure path runs through the rollback transition first.
type txState int

const (
	txBegun txState = iota
	txExecuting
	txCommitted
	txRolledBack
)

// TxStatementResult reports one executed statement inside a committed
// transaction.
type TxStatementResult struct {
	Statement    int   `json:"statement"`
	RowsAffected int64 `json:"rows_affected"`
}

// TxResult is the wire shape of postgres.transaction.
type TxResult struct {
	Committed  bool                `json:"committed"`
	Statements []TxStatementResult `json:"statements"`
}

// StatementError identifies the statement that aborted a transaction.
// The rollback has already happened by the time a caller sees it.
type StatementError struct {
	Index int
	Err   error

	// fatal is set when the rollback itself failed and the session is
	// in an indeterminate state.
	fatal bool
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d failed: %v", e.Index, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// StatementIndex reports the zero-based index of the failed statement.
func (e *StatementError) StatementIndex() int { return e.Index }

// tx drives one transaction unit through its states.
type tx struct {
	db    Execer
	state txState
}

func (t *tx) begin(ctx context.Context) error {
	if _, err := t.db.Exec(ctx, "BEGIN"); err != nil {
		return errors.Wrap(errors.TransactionError, "failed to begin transaction", err)
	}
	t.state = txExecuting
	return nil
}

// fail rolls the transaction back and returns the statement error for
// index i. A failed rollback marks the error fatal so the dispatcher
// discards the session instead of pooling it mid-transaction.
func (t *tx) fail(ctx context.Context, i int, err error) *StatementError {
	serr := &StatementError{Index: i, Err: wrapSQL(errors.TransactionError, err)}
	if _, rbErr := t.db.Exec(ctx, "ROLLBACK"); rbErr != nil {
		serr.fatal = true
	}
	t.state = txRolledBack
	return serr
}

func (t *tx) commit(ctx context.Context) error {
	if _, err := t.db.Exec(ctx, "COMMIT"); err != nil {
		return err
	}
	t.state = txCommitted
	return nil
}

// Transaction executes statements atomically in order: begin, each
// statement, commit. The first failure rolls back and fails the whole
// call with the triggering statement's index; partial success is never
// observable. Each statement's effects are visible to the next one
// before it runs.
func Transaction(ctx context.Context, db Execer, statements []string) (*TxResult, error) {
	if len(statements) == 0 {
		return nil, errors.New(errors.InvalidParams, "statements must not be empty")
	}

	t := &tx{db: db, state: txBegun}
	if err := t.begin(ctx); err != nil {
		return nil, err
	}

	results := make([]TxStatementResult, 0, len(statements))
	for i, stmt := range statements {
		tag, err := db.Exec(ctx, stmt)
		if err != nil {
			return nil, t.fail(ctx, i, err)
		}
		results = append(results, TxStatementResult{Statement: i, RowsAffected: tag.RowsAffected()})
	}

	if err := t.commit(ctx); err != nil {
		return nil, t.fail(ctx, len(statements)-1, err)
	}

	return &TxResult{Committed: true, Statements: results}, nil
}
