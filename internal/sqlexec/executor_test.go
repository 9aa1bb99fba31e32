// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"fgp/postgres/internal/errors"
)

// stubRows is a minimal pgx.Rows over fixed data.
type stubRows struct {
	cols []string
	data [][]any
	i    int
}

func (r *stubRows) Close()                        {}
func (r *stubRows) Err() error                    { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *stubRows) Scan(...any) error             { return nil }
func (r *stubRows) RawValues() [][]byte           { return nil }
func (r *stubRows) Conn() *pgx.Conn               { return nil }
func (r *stubRows) Next() bool                    { r.i++; return r.i <= len(r.data) }
func (r *stubRows) Values() ([]any, error)        { return r.data[r.i-1], nil }

func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		fds[i].Name = c
	}
	return fds
}

type stubQuerier struct {
	rows *stubRows
	err  error
}

func (q *stubQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func TestQueryShapesRows(t *testing.T) {
	q := &stubQuerier{rows: &stubRows{cols: []string{"x"}, data: [][]any{{int64(1)}}}}

	res, err := Query(context.Background(), q, "SELECT 1 AS x")
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, res.Columns)
	require.Equal(t, 1, res.RowCount)
	require.Equal(t, []map[string]any{{"x": int64(1)}}, res.Rows)
}

func TestQueryEmptyResultKeepsShape(t *testing.T) {
	q := &stubQuerier{rows: &stubRows{cols: []string{"id", "name"}}}

	res, err := Query(context.Background(), q, "SELECT id, name FROM t WHERE false")
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, res.Columns)
	require.Equal(t, 0, res.RowCount)
	require.NotNil(t, res.Rows)
	require.Empty(t, res.Rows)
}

func TestExecuteReportsRowsAffected(t *testing.T) {
	db := newScriptedExec()
	db.tags["DELETE FROM t"] = pgconn.NewCommandTag("DELETE 7")

	res, err := Execute(context.Background(), db, "DELETE FROM t")
	require.NoError(t, err)
	require.EqualValues(t, 7, res.RowsAffected)
}

func TestExecuteClassifiesBackendErrors(t *testing.T) {
	db := newScriptedExec()
	db.failures["BAD"] = syntaxError()
	db.failures["GONE"] = stderrors.New("unexpected EOF")

	_, err := Execute(context.Background(), db, "BAD")
	require.Equal(t, errors.QueryError, errors.KindOf(err))
	require.Contains(t, err.Error(), "SQLSTATE 42601")

	// Non-SQL failure means the session itself broke.
	_, err = Execute(context.Background(), db, "GONE")
	require.Equal(t, errors.ConnectionError, errors.KindOf(err))
}

func TestNormalizeValue(t *testing.T) {
	uuid := [16]byte{0x55, 0x0e, 0x84, 0x00, 0xe2, 0x9b, 0x41, 0xd4, 0xa7, 0x16, 0x44, 0x66, 0x55, 0x44, 0x00, 0x00}

	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "uuid array", in: uuid, want: "550e8400-e29b-41d4-a716-446655440000"},
		{name: "uuid slice", in: uuid[:], want: "550e8400-e29b-41d4-a716-446655440000"},
		{name: "bytea", in: []byte{0xde, 0xad}, want: `\xdead`},
		{name: "nil", in: nil, want: nil},
		{name: "int passthrough", in: int64(42), want: int64(42)},
		{name: "string passthrough", in: "hello", want: "hello"},
		{name: "bool passthrough", in: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NormalizeValue(tt.in))
		})
	}
}

func TestFatalClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "syntax error", err: syntaxError(), want: false},
		{
			name: "constraint violation",
			err:  &pgconn.PgError{Severity: "ERROR", Code: "23505", Message: "duplicate key"},
			want: false,
		},
		{
			name: "fatal severity",
			err:  &pgconn.PgError{Severity: "FATAL", Code: "28P01", Message: "password authentication failed"},
			want: true,
		},
		{
			name: "connection exception class",
			err:  &pgconn.PgError{Severity: "ERROR", Code: "08006", Message: "connection failure"},
			want: true,
		},
		{
			name: "admin shutdown",
			err:  &pgconn.PgError{Severity: "ERROR", Code: "57P01", Message: "terminating connection"},
			want: true,
		},
		{
			name: "wrapped connection error",
			err:  errors.Wrap(errors.ConnectionError, "backend connection failed", stderrors.New("broken pipe")),
			want: true,
		},
		{name: "plain error", err: stderrors.New("something else"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Fatal(tt.err))
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{in: 0, want: "0 bytes"},
		{in: 512, want: "512 bytes"},
		{in: 2048, want: "2.00 KB"},
		{in: 5 << 20, want: "5.00 MB"},
		{in: 3 << 30, want: "3.00 GB"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatBytes(tt.in))
	}
}
